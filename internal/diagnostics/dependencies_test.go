package diagnostics

import (
	"errors"
	"testing"
)

func TestDetectDependencies(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() {
		lookPath = orig
	})

	lookPath = func(file string) (string, error) {
		switch file {
		case "ffmpeg":
			return "/usr/bin/ffmpeg", nil
		default:
			return "", errors.New("not found")
		}
	}

	report := DetectDependencies("", "")
	if !report.FFmpeg.Found {
		t.Fatal("expected ffmpeg to be found")
	}
	if report.FFmpeg.Path != "/usr/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg path: %s", report.FFmpeg.Path)
	}
	if report.FFprobe.Found {
		t.Fatal("expected ffprobe to be missing")
	}
	if report.TranscodeReady {
		t.Fatal("expected TranscodeReady to be false")
	}
}

func TestDetectDependenciesHonoursOverrides(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() {
		lookPath = orig
	})

	var looked []string
	lookPath = func(file string) (string, error) {
		looked = append(looked, file)
		return file, nil
	}

	report := DetectDependencies("/opt/ff/bin/ffmpeg", " /opt/ff/bin/ffprobe ")
	if report.FFmpeg.Path != "/opt/ff/bin/ffmpeg" || report.FFprobe.Path != "/opt/ff/bin/ffprobe" {
		t.Fatalf("overrides not used: %+v", report)
	}
	if !report.TranscodeReady {
		t.Fatal("expected TranscodeReady with both tools present")
	}
	if len(looked) != 2 {
		t.Fatalf("expected two lookups, got %v", looked)
	}
}
