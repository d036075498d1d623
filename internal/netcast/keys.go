package netcast

import (
	"sort"
	"strings"
)

// KeyCode values are defined by the TV firmware and must not be renumbered.
type KeyCode int

const (
	KeyPower         KeyCode = 1
	KeyNum0          KeyCode = 2
	KeyNum1          KeyCode = 3
	KeyNum2          KeyCode = 4
	KeyNum3          KeyCode = 5
	KeyNum4          KeyCode = 6
	KeyNum5          KeyCode = 7
	KeyNum6          KeyCode = 8
	KeyNum7          KeyCode = 9
	KeyNum8          KeyCode = 10
	KeyNum9          KeyCode = 11
	KeyUp            KeyCode = 12
	KeyDown          KeyCode = 13
	KeyLeft          KeyCode = 14
	KeyRight         KeyCode = 15
	KeyOK            KeyCode = 20
	KeyHome          KeyCode = 21
	KeyMenu          KeyCode = 22
	KeyBack          KeyCode = 23
	KeyVolumeUp      KeyCode = 24
	KeyVolumeDown    KeyCode = 25
	KeyMute          KeyCode = 26
	KeyChannelUp     KeyCode = 27
	KeyChannelDown   KeyCode = 28
	KeyBlue          KeyCode = 29
	KeyGreen         KeyCode = 30
	KeyRed           KeyCode = 31
	KeyYellow        KeyCode = 32
	KeyPlay          KeyCode = 33
	KeyPause         KeyCode = 34
	KeyStop          KeyCode = 35
	KeyFastForward   KeyCode = 36
	KeyRewind        KeyCode = 37
	KeySkipForward   KeyCode = 38
	KeySkipBackward  KeyCode = 39
	KeyRecord        KeyCode = 40
	KeyRecordingList KeyCode = 41
	KeyRepeat        KeyCode = 42
	KeyLiveTV        KeyCode = 43
	KeyEPG           KeyCode = 44
	KeyInfo          KeyCode = 45
	KeyAspectRatio   KeyCode = 46
	KeyExternalInput KeyCode = 47
	KeyPIPSecondary  KeyCode = 48
	KeySubtitle      KeyCode = 49
	KeyProgramList   KeyCode = 50
	KeyTeletext      KeyCode = 51
	KeyMark          KeyCode = 52

	Key3DVideo          KeyCode = 400
	Key3DAudioLR        KeyCode = 401
	KeyDash             KeyCode = 402
	KeyPreviousChannel  KeyCode = 403
	KeyFavoriteChannel  KeyCode = 404
	KeyQuickMenu        KeyCode = 405
	KeyTextOption       KeyCode = 406
	KeyAudioDescription KeyCode = 407
	KeyNetcast          KeyCode = 408
	KeyEnergySaving     KeyCode = 409
	KeyAVMode           KeyCode = 410
	KeySimplink         KeyCode = 411
	KeyExit             KeyCode = 412
	KeyReservationList  KeyCode = 413
	KeyPIPChannelUp     KeyCode = 414
	KeyPIPChannelDown   KeyCode = 415
	KeySwitchVideo      KeyCode = 416
	KeyApps             KeyCode = 417
)

var keyNames = map[string]KeyCode{
	"power":             KeyPower,
	"0":                 KeyNum0,
	"1":                 KeyNum1,
	"2":                 KeyNum2,
	"3":                 KeyNum3,
	"4":                 KeyNum4,
	"5":                 KeyNum5,
	"6":                 KeyNum6,
	"7":                 KeyNum7,
	"8":                 KeyNum8,
	"9":                 KeyNum9,
	"up":                KeyUp,
	"down":              KeyDown,
	"left":              KeyLeft,
	"right":             KeyRight,
	"ok":                KeyOK,
	"home":              KeyHome,
	"menu":              KeyMenu,
	"back":              KeyBack,
	"volume_up":         KeyVolumeUp,
	"volume_down":       KeyVolumeDown,
	"mute":              KeyMute,
	"channel_up":        KeyChannelUp,
	"channel_down":      KeyChannelDown,
	"blue":              KeyBlue,
	"green":             KeyGreen,
	"red":               KeyRed,
	"yellow":            KeyYellow,
	"play":              KeyPlay,
	"pause":             KeyPause,
	"stop":              KeyStop,
	"fast_forward":      KeyFastForward,
	"rewind":            KeyRewind,
	"skip_forward":      KeySkipForward,
	"skip_backward":     KeySkipBackward,
	"record":            KeyRecord,
	"recording_list":    KeyRecordingList,
	"repeat":            KeyRepeat,
	"live_tv":           KeyLiveTV,
	"epg":               KeyEPG,
	"info":              KeyInfo,
	"aspect_ratio":      KeyAspectRatio,
	"external_input":    KeyExternalInput,
	"pip_secondary":     KeyPIPSecondary,
	"subtitle":          KeySubtitle,
	"program_list":      KeyProgramList,
	"teletext":          KeyTeletext,
	"mark":              KeyMark,
	"3d_video":          Key3DVideo,
	"3d_audio_lr":       Key3DAudioLR,
	"dash":              KeyDash,
	"previous_channel":  KeyPreviousChannel,
	"favorite_channel":  KeyFavoriteChannel,
	"quick_menu":        KeyQuickMenu,
	"text_option":       KeyTextOption,
	"audio_description": KeyAudioDescription,
	"netcast":           KeyNetcast,
	"energy_saving":     KeyEnergySaving,
	"av_mode":           KeyAVMode,
	"simplink":          KeySimplink,
	"exit":              KeyExit,
	"reservation_list":  KeyReservationList,
	"pip_channel_up":    KeyPIPChannelUp,
	"pip_channel_down":  KeyPIPChannelDown,
	"switch_video":      KeySwitchVideo,
	"apps":              KeyApps,
}

// ParseKey accepts a key name ("volume_up", "Volume Up", "VOLUME-UP") or a
// digit and returns its firmware code.
func ParseKey(name string) (KeyCode, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	code, ok := keyNames[normalized]
	return code, ok
}

// KeyNames lists the names accepted by ParseKey.
func KeyNames() []string {
	names := make([]string, 0, len(keyNames))
	for name := range keyNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type WheelDirection string

const (
	WheelUp   WheelDirection = "up"
	WheelDown WheelDirection = "down"
)

func (d WheelDirection) Valid() bool {
	return d == WheelUp || d == WheelDown
}
