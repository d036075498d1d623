package diagnostics

import (
	"fmt"
	"os/exec"
)

var lookPath = exec.LookPath

type BinaryStatus struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// DependencyReport lists the external tools media staging relies on. Only
// split video/audio content needs ffmpeg; everything else plays without it.
type DependencyReport struct {
	FFmpeg         BinaryStatus `json:"ffmpeg"`
	MergeSupported bool         `json:"merge_supported"`
}

func DetectDependencies() DependencyReport {
	ffmpeg := detectBinary("ffmpeg")
	return DependencyReport{
		FFmpeg:         ffmpeg,
		MergeSupported: ffmpeg.Found,
	}
}

// FFmpegPath returns the ffmpeg binary used for merging split streams.
func FFmpegPath() (string, error) {
	path, err := lookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg is required to merge video and audio streams: %w", err)
	}
	return path, nil
}

func detectBinary(name string) BinaryStatus {
	path, err := lookPath(name)
	if err != nil {
		return BinaryStatus{Found: false}
	}

	return BinaryStatus{
		Found: true,
		Path:  path,
	}
}
