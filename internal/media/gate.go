package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go2tv.app/castkey/internal/diagnostics"
	"go2tv.app/castkey/internal/domain"
)

// Containers that Cast video receivers refuse outright.
var videoIncompatibleContainers = map[string]bool{
	"flv": true,
	"avi": true,
	"asf": true,
}

// Audio codecs Cast audio receivers decode natively.
var audioAcceptedCodecs = map[string]bool{
	"mp3":       true,
	"aac":       true,
	"flac":      true,
	"vorbis":    true,
	"opus":      true,
	"pcm_s16le": true,
	"pcm_s24le": true,
}

// Containers Cast audio receivers (Google Home in particular) will not open
// even when the codec inside is one they decode.
var audioIncompatibleContainers = map[string]bool{
	"mov":      true,
	"mp4":      true,
	"m4a":      true,
	"3gp":      true,
	"matroska": true,
	"asf":      true,
}

type TargetFormat int

const (
	TargetVideoMP4 TargetFormat = iota + 1
	TargetAudioMP3
	TargetAudioAAC
)

func (f TargetFormat) Ext() string {
	switch f {
	case TargetVideoMP4:
		return ".mp4"
	case TargetAudioMP3:
		return ".mp3"
	case TargetAudioAAC:
		return ".aac"
	default:
		return ""
	}
}

// TranscodeTask records a transcode that actually ran. OutputPath is a
// temporary file owned by the caller once EnsureCompatible returns.
type TranscodeTask struct {
	SourcePath string
	OutputPath string
	Target     TargetFormat
}

type Result struct {
	Path     string
	Duration float64
	Task     *TranscodeTask
	Warnings []string
}

type GateOptions struct {
	Tools   diagnostics.DependencyReport
	TempDir string
	Logger  *slog.Logger
}

// Gate decides whether a local file can be streamed as-is to a receiver
// kind and transcodes it into a temporary file when it cannot.
type Gate struct {
	tools   diagnostics.DependencyReport
	tempDir string
	logger  *slog.Logger
	run     runCommand
}

func NewGate(opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		tools:   opts.Tools,
		tempDir: opts.TempDir,
		logger:  logger,
		run:     execCommand,
	}
}

func (g *Gate) EnsureCompatible(ctx context.Context, path string, kind domain.ReceiverKind) (*Result, error) {
	result := &Result{Path: path, Warnings: []string{}}

	if !g.tools.FFprobe.Found {
		result.Warnings = append(result.Warnings, "ffprobe not found; skipping compatibility check")
		return result, nil
	}

	prober := NewProber(g.tools.FFprobe.Path)
	prober.run = g.run
	info, err := prober.Probe(ctx, path)
	if err != nil {
		g.logger.Warn("media_probe_failed", slog.String("error", err.Error()))
		result.Warnings = append(result.Warnings, "codec probe failed; skipping compatibility check")
		return result, nil
	}
	result.Duration = info.Duration

	var args []string
	var target TargetFormat
	switch kind {
	case domain.ReceiverVideoCapable:
		if !info.ContainerIs(videoIncompatibleContainers) {
			return result, nil
		}
		target = TargetVideoMP4
		args = videoTranscodeArgs(info)
	case domain.ReceiverAudioOnly:
		audio, ok := info.FirstAudio()
		if !ok {
			return nil, noAudioStreamError(path)
		}
		if audioAcceptedCodecs[audio.CodecName] && !info.ContainerIs(audioIncompatibleContainers) {
			return result, nil
		}
		target, args = audioTranscodeArgs(audio)
	default:
		return nil, domain.NewError(domain.KindUnsupportedReceiver, fmt.Sprintf("receiver kind %s has no media policy", kind))
	}

	if !g.tools.FFmpeg.Found {
		result.Warnings = append(result.Warnings, "media needs transcoding but ffmpeg was not found; streaming it unchanged")
		return result, nil
	}

	task, err := g.transcode(ctx, path, target, args)
	if err != nil {
		return nil, err
	}
	result.Path = task.OutputPath
	result.Task = task
	result.Warnings = append(result.Warnings, fmt.Sprintf("media is not compatible with %s receivers; transcoded to %s", kind, strings.TrimPrefix(target.Ext(), ".")))
	return result, nil
}

func (g *Gate) transcode(ctx context.Context, source string, target TargetFormat, codecArgs []string) (*TranscodeTask, error) {
	out, err := os.CreateTemp(g.tempDir, "castkey-*"+target.Ext())
	if err != nil {
		return nil, domain.WrapError(domain.KindTranscodeFailed, "create temporary output", err)
	}
	outputPath := out.Name()
	_ = out.Close()

	args := append([]string{"-hide_banner", "-loglevel", "error", "-y", "-i", source}, codecArgs...)
	args = append(args, outputPath)

	g.logger.Info("transcode_start",
		slog.String("target", target.Ext()),
		slog.String("args", strings.Join(codecArgs, " ")),
	)
	_, stderr, runErr := g.run(ctx, g.tools.FFmpeg.Path, args...)
	if runErr != nil {
		_ = os.Remove(outputPath)
		failed := domain.WrapError(domain.KindTranscodeFailed, fmt.Sprintf("ffmpeg could not convert %s", filepath.Base(source)), runErr)
		if msg := lastLines(string(stderr), 5); msg != "" {
			failed.Hints = append(failed.Hints, msg)
		}
		return nil, failed
	}
	g.logger.Info("transcode_done", slog.String("target", target.Ext()))

	return &TranscodeTask{
		SourcePath: source,
		OutputPath: outputPath,
		Target:     target,
	}, nil
}

// videoTranscodeArgs remuxes into MP4, copying streams that are already
// H.264/AAC and re-encoding the rest.
func videoTranscodeArgs(info Info) []string {
	args := []string{}
	if v, ok := info.FirstVideo(); ok && v.CodecName == "h264" {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-crf", "23", "-pix_fmt", "yuv420p")
	}

	if a, ok := info.FirstAudio(); !ok {
		args = append(args, "-an")
	} else if a.CodecName == "aac" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", "192k", "-ac", "2")
	}
	return append(args, "-movflags", "+faststart", "-f", "mp4")
}

// audioTranscodeArgs copies AAC into raw ADTS and MP3 into a bare MP3
// stream, and re-encodes everything else to MP3.
func audioTranscodeArgs(audio Stream) (TargetFormat, []string) {
	args := []string{"-vn", "-map", fmt.Sprintf("0:%d", audio.Index)}
	switch audio.CodecName {
	case "aac":
		return TargetAudioAAC, append(args, "-c:a", "copy", "-f", "adts")
	case "mp3":
		return TargetAudioMP3, append(args, "-c:a", "copy", "-f", "mp3")
	default:
		return TargetAudioMP3, append(args, "-c:a", "libmp3lame", "-q:a", "2", "-f", "mp3")
	}
}

func noAudioStreamError(path string) *domain.Error {
	return &domain.Error{
		Kind:    domain.KindNoCompatibleStream,
		Message: fmt.Sprintf("%s has no audio stream for an audio-only receiver", filepath.Base(path)),
		Hints: []string{
			"Pick a video-capable receiver for this file.",
		},
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
