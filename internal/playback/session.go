package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go2tv.app/go2tv/v2/castprotocol"

	"go2tv.app/castkey/internal/domain"
)

// DefaultSettleDelay is how long a receiver needs after a status request
// before the reported position can be trusted.
const DefaultSettleDelay = 100 * time.Millisecond

// ErrUnknownDuration is returned by operations that need the media length
// when the receiver has not reported one.
var ErrUnknownDuration = errors.New("media duration is unknown")

// Transport is the part of a Cast session a playback session drives.
type Transport interface {
	Play() error
	Pause() error
	Seek(seconds int) error
	SetVolume(level float32) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
}

type Options struct {
	SettleDelay time.Duration
	// Duration is the length known before the receiver reports one, e.g.
	// from probing a local file. Zero means unknown.
	Duration float64
	Logger   *slog.Logger
}

// Session wraps a transport with a locally tracked play/pause intent. The
// receiver's PlayerState lags behind commands, so it is never read back to
// decide whether the media is playing.
//
// A Session is driven from a single goroutine.
type Session struct {
	transport     Transport
	playing       bool
	settle        time.Duration
	knownDuration float64
	last          castprotocol.CastStatus
	logger        *slog.Logger

	wait func(ctx context.Context, d time.Duration) error
}

// New returns a session for media that the receiver has just started
// playing.
func New(transport Transport, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	settle := opts.SettleDelay
	if settle < 0 {
		settle = 0
	}
	return &Session{
		transport:     transport,
		playing:       true,
		settle:        settle,
		knownDuration: opts.Duration,
		logger:        logger,
		wait:          sleepContext,
	}
}

func (s *Session) IsPlaying() bool {
	return s.playing
}

func (s *Session) Play() error {
	s.playing = true
	return s.command("play", s.transport.Play)
}

func (s *Session) Pause() error {
	s.playing = false
	return s.command("pause", s.transport.Pause)
}

// Switch toggles between playing and paused.
func (s *Session) Switch() error {
	if s.playing {
		return s.Pause()
	}
	return s.Play()
}

// Seek moves to position seconds and then reissues the current play/pause
// intent, since some receivers resume on seek. Position is not clamped
// beyond flooring at zero; callers clamp to the duration.
func (s *Session) Seek(position float64) error {
	target := int(math.Floor(math.Max(position, 0)))
	if err := s.command(fmt.Sprintf("seek %d", target), func() error {
		return s.transport.Seek(target)
	}); err != nil {
		return err
	}

	if s.playing {
		return s.command("play", s.transport.Play)
	}
	return s.command("pause", s.transport.Pause)
}

func (s *Session) Forward(ctx context.Context, seconds float64) error {
	current, err := s.CurrentTime(ctx)
	if err != nil {
		return err
	}
	return s.Seek(s.clamp(current + seconds))
}

func (s *Session) Backward(ctx context.Context, seconds float64) error {
	current, err := s.CurrentTime(ctx)
	if err != nil {
		return err
	}
	return s.Seek(s.clamp(current - seconds))
}

// SeekPercent seeks to n tenths of the duration, n in [0, 9]. It fails with
// ErrUnknownDuration, and sends nothing, when the duration is unknown.
func (s *Session) SeekPercent(n int) error {
	if n < 0 || n > 9 {
		return domain.NewError(domain.KindInvalidArguments, fmt.Sprintf("percentage step %d is outside 0..9", n))
	}

	duration := s.Duration()
	if duration <= 0 {
		if _, err := s.status(); err != nil {
			return err
		}
		duration = s.Duration()
	}
	if duration <= 0 {
		return ErrUnknownDuration
	}
	return s.Seek(duration * float64(n) / 10)
}

// CurrentTime asks the receiver for a fresh status, waits the settle delay
// and reads the position from a second status. It blocks for at least the
// settle delay; use LastKnown for a cheap read of possibly stale state.
func (s *Session) CurrentTime(ctx context.Context) (float64, error) {
	if _, err := s.status(); err != nil {
		return 0, err
	}
	if err := s.wait(ctx, s.settle); err != nil {
		return 0, err
	}
	st, err := s.status()
	if err != nil {
		return 0, err
	}
	return float64(st.CurrentTime), nil
}

// LastKnown returns the most recent status read from the receiver without
// contacting it.
func (s *Session) LastKnown() castprotocol.CastStatus {
	return s.last
}

// Duration is the receiver-reported duration, falling back to the length
// known at load time. Zero means unknown.
func (s *Session) Duration() float64 {
	if d := float64(s.last.Duration); d > 0 {
		return d
	}
	if s.knownDuration > 0 {
		return s.knownDuration
	}
	return 0
}

func (s *Session) VolumeUp(delta float32) error {
	return s.adjustVolume(delta)
}

func (s *Session) VolumeDown(delta float32) error {
	return s.adjustVolume(-delta)
}

// Stop ends playback on the receiver. Only teardown calls it.
func (s *Session) Stop() error {
	s.playing = false
	return s.command("stop", s.transport.Stop)
}

func (s *Session) adjustVolume(delta float32) error {
	st, err := s.status()
	if err != nil {
		return err
	}
	level := min(max(st.Volume+delta, 0), 1)
	return s.command(fmt.Sprintf("volume %.2f", level), func() error {
		return s.transport.SetVolume(level)
	})
}

// clamp bounds a target to [0, duration]; with an unknown duration only the
// lower bound applies.
func (s *Session) clamp(target float64) float64 {
	target = math.Max(target, 0)
	if d := s.Duration(); d > 0 {
		target = math.Min(target, d)
	}
	return target
}

func (s *Session) status() (castprotocol.CastStatus, error) {
	st, err := s.transport.GetStatus()
	if err != nil {
		return castprotocol.CastStatus{}, domain.WrapError(domain.KindTransportCommandFailed, "status", err)
	}
	if st == nil {
		return castprotocol.CastStatus{}, domain.NewError(domain.KindTransportCommandFailed, "status: receiver returned no status")
	}
	s.last = *st
	return s.last, nil
}

func (s *Session) command(name string, call func() error) error {
	if err := call(); err != nil {
		s.logger.Warn("transport_command_failed",
			slog.String("command", name),
			slog.String("error", err.Error()),
		)
		return domain.WrapError(domain.KindTransportCommandFailed, name, err)
	}
	s.logger.Debug("transport_command", slog.String("command", name), slog.Bool("playing", s.playing))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
