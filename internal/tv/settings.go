package tv

import (
	"golang.org/x/time/rate"

	"go2tv.app/lgremote/internal/cast"
	"go2tv.app/lgremote/internal/config"
	"go2tv.app/lgremote/internal/dial"
	"go2tv.app/lgremote/internal/netcast"
	"go2tv.app/lgremote/internal/sequencer"
)

func SettingsFromConfig(cfg *config.Config) Settings {
	retry := cast.DefaultRetryPolicy()
	if cfg.Cast.RetryAttempts > 0 {
		retry.Attempts = cfg.Cast.RetryAttempts
	}

	return Settings{
		Netcast: netcast.Options{
			Port:           cfg.Netcast.Port,
			CommandTimeout: cfg.Netcast.CommandTimeout,
			AppTimeout:     cfg.Netcast.AppTimeout,
			MoveRate:       rate.Limit(cfg.Netcast.MoveRate),
		},
		DIAL: dial.Options{
			Ports:          append([]int{}, cfg.DIAL.Ports...),
			ProbeTimeout:   cfg.DIAL.ProbeTimeout,
			RequestTimeout: cfg.DIAL.RequestTimeout,
		},
		Cast:  cast.Options{PollInterval: cfg.Cast.PollInterval},
		Retry: retry,
		Sequencer: sequencer.Timings{
			SlideshowDelay: cfg.Sequencer.SlideshowDelay,
			AlbumDelay:     cfg.Sequencer.AlbumDelay,
			LoadSettle:     cfg.Sequencer.LoadSettle,
			PollInterval:   cfg.Sequencer.PollInterval,
			InterItemGap:   cfg.Sequencer.InterItemGap,
			MaxPolls:       cfg.Sequencer.MaxPolls,
		},
		Media: MediaSettings{
			CacheDir:        cfg.Media.CacheDir,
			StageRemote:     cfg.Media.StageRemote,
			DownloadRetries: cfg.Media.DownloadRetries,
			MaxServers:      cfg.Media.MaxServers,
		},
		DiscoveryTimeoutMS: cfg.Discovery.TimeoutMS,
	}
}
