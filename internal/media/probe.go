package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const maxProbeTimeout = 30 * time.Second

// runCommand executes name with args and returns stdout and stderr.
type runCommand func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type Stream struct {
	Index     int
	CodecType string
	CodecName string
}

// Info is the subset of ffprobe output the compatibility policy needs.
type Info struct {
	// Container is ffprobe's format_name, e.g. "mov,mp4,m4a,3gp,3g2,mj2".
	Container string
	Duration  float64
	Audio     []Stream
	Video     []Stream
}

func (i Info) FirstAudio() (Stream, bool) {
	if len(i.Audio) == 0 {
		return Stream{}, false
	}
	return i.Audio[0], true
}

func (i Info) FirstVideo() (Stream, bool) {
	if len(i.Video) == 0 {
		return Stream{}, false
	}
	return i.Video[0], true
}

// ContainerIs reports whether any of ffprobe's comma separated format names
// is in names.
func (i Info) ContainerIs(names map[string]bool) bool {
	for _, part := range strings.Split(i.Container, ",") {
		if names[strings.ToLower(strings.TrimSpace(part))] {
			return true
		}
	}
	return false
}

type Prober struct {
	binary string
	run    runCommand
}

func NewProber(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin, run: execCommand}
}

func (p *Prober) Probe(ctx context.Context, filePath string) (Info, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return Info{}, errors.New("file path is required")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	stdout, stderr, runErr := p.run(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	info, parseErr := parseProbeOutput(stdout)
	if runErr != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return Info{}, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		return Info{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
	}
	if parseErr != nil {
		return Info{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}
	return info, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

func parseProbeOutput(data []byte) (Info, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Info{}, err
	}

	info := Info{Container: strings.TrimSpace(payload.Format.FormatName)}
	for _, s := range payload.Streams {
		stream := Stream{
			Index:     s.Index,
			CodecType: s.CodecType,
			CodecName: strings.ToLower(strings.TrimSpace(s.CodecName)),
		}
		switch s.CodecType {
		case "audio":
			info.Audio = append(info.Audio, stream)
		case "video":
			// Cover art in audio files shows up as a single-frame video stream.
			if s.CodecName == "mjpeg" || s.CodecName == "png" {
				continue
			}
			info.Video = append(info.Video, stream)
		}
	}

	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = d
		}
	}
	return info, nil
}
