package diagnostics

import (
	"os/exec"
	"strings"
)

var lookPath = exec.LookPath

type BinaryStatus struct {
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// DependencyReport describes the optional media tools. Both are optional:
// without ffprobe the compatibility check is skipped, without ffmpeg
// incompatible media is streamed unchanged.
type DependencyReport struct {
	FFmpeg         BinaryStatus `json:"ffmpeg"`
	FFprobe        BinaryStatus `json:"ffprobe"`
	TranscodeReady bool         `json:"transcode_ready"`
}

// DetectDependencies resolves ffmpeg and ffprobe. Empty overrides fall back
// to a PATH lookup of the default binary names.
func DetectDependencies(ffmpegOverride, ffprobeOverride string) DependencyReport {
	ffmpeg := detectBinary(ffmpegOverride, "ffmpeg")
	ffprobe := detectBinary(ffprobeOverride, "ffprobe")

	return DependencyReport{
		FFmpeg:         ffmpeg,
		FFprobe:        ffprobe,
		TranscodeReady: ffmpeg.Found && ffprobe.Found,
	}
}

func detectBinary(override, name string) BinaryStatus {
	candidate := strings.TrimSpace(override)
	if candidate == "" {
		candidate = name
	}
	path, err := lookPath(candidate)
	if err != nil {
		return BinaryStatus{Found: false}
	}

	return BinaryStatus{
		Found: true,
		Path:  path,
	}
}
