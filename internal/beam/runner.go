package beam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"go2tv.app/castkey/internal/adapters"
	"go2tv.app/castkey/internal/control"
	"go2tv.app/castkey/internal/diagnostics"
	"go2tv.app/castkey/internal/domain"
	"go2tv.app/castkey/internal/lifecycle"
	"go2tv.app/castkey/internal/media"
	"go2tv.app/castkey/internal/mediaserver"
	"go2tv.app/castkey/internal/playback"
)

type deviceFinder interface {
	Find(ctx context.Context, target string) (*domain.Device, error)
}

type compatibilityGate interface {
	EnsureCompatible(ctx context.Context, path string, kind domain.ReceiverKind) (*media.Result, error)
}

type listenResolver interface {
	ListenAddress(deviceAddress string) (string, error)
}

type mediaServer interface {
	Start(addr string) error
	Route() string
	Shutdown(ctx context.Context) error
}

// Keyboard produces key presses for the control loop. The restore func
// undoes any terminal mode change and must be safe to call repeatedly.
type Keyboard interface {
	Open(ctx context.Context) (<-chan control.Key, func(), error)
}

type Deps struct {
	Finder      deviceFinder
	CastFactory adapters.CastFactory
	Keyboard    Keyboard
	// Out receives user-facing lines: startup hints, warnings, help.
	Out    io.Writer
	Logger *slog.Logger
}

// Runner owns one casting session from device lookup to teardown.
type Runner struct {
	cfg         Config
	finder      deviceFinder
	castFactory adapters.CastFactory
	keyboard    Keyboard
	gate        compatibilityGate
	resolver    listenResolver
	newServer   func(path string, logger *slog.Logger) (mediaServer, error)
	removeTemp  func(path string, retryDelay time.Duration) error
	out         io.Writer
	logger      *slog.Logger
}

func NewRunner(cfg Config, deps Deps) *Runner {
	out := deps.Out
	if out == nil {
		out = io.Discard
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		cfg:         cfg,
		finder:      deps.Finder,
		castFactory: deps.CastFactory,
		keyboard:    deps.Keyboard,
		gate: media.NewGate(media.GateOptions{
			Tools:   diagnostics.DetectDependencies(cfg.FFmpegPath, cfg.FFprobePath),
			TempDir: cfg.TempDir,
			Logger:  logger,
		}),
		resolver: mediaserver.NewResolver(cfg.ListenAddress),
		newServer: func(path string, logger *slog.Logger) (mediaServer, error) {
			return mediaserver.New(path, logger)
		},
		removeTemp: media.RemoveTemp,
		out:        out,
		logger:     logger,
	}
}

type preparedMedia struct {
	url         string
	contentType string
	// loadDuration is passed to the receiver on load; only set for
	// transcoded output, whose length the receiver cannot read up front.
	loadDuration float64
	duration     float64
}

// Run casts source to the receiver named target and drives playback from
// the keyboard until an exit key, ctx cancellation or a fatal error.
// Everything acquired along the way is released before Run returns, on
// every path including panics.
func (r *Runner) Run(ctx context.Context, target, source string) error {
	if r.finder == nil || r.castFactory == nil || r.keyboard == nil {
		return domain.NewError(domain.KindInternal, "runner is not configured")
	}

	logger := r.logger.With(slog.String("session_id", uuid.NewString()))
	teardown := lifecycle.NewTeardown(logger)
	defer teardown.Run()

	device, err := r.finder.Find(ctx, target)
	if err != nil {
		return err
	}
	kind := device.Kind()
	if kind == domain.ReceiverUnsupported {
		return unsupportedReceiverError(device)
	}
	logger.Info("device_selected",
		slog.String("device", device.Name),
		slog.String("kind", kind.String()),
		slog.String("address", device.Address),
	)

	client, err := r.castFactory.NewCastClient(device.Address)
	if err != nil {
		return domain.WrapError(domain.KindStreamStartFailed, "failed to create cast client", err)
	}
	teardown.Push("disconnect", func() error {
		return client.Close(false)
	})
	if err := r.withRetry(ctx, logger, "cast_connect", client.Connect); err != nil {
		return domain.WrapError(domain.KindStreamStartFailed, fmt.Sprintf("failed to connect to %s", device.Name), err)
	}

	prepared, err := r.prepareMedia(ctx, logger, teardown, device, kind, source)
	if err != nil {
		return err
	}

	teardown.Push("stop playback", client.Stop)
	if err := r.withRetry(ctx, logger, "cast_load", func() error {
		return client.Load(prepared.url, prepared.contentType, 0, prepared.loadDuration, "", false)
	}); err != nil {
		return domain.WrapError(domain.KindStreamStartFailed, "receiver did not start playback", err)
	}
	logger.Info("cast_load",
		slog.String("url", prepared.url),
		slog.String("content_type", prepared.contentType),
	)
	fmt.Fprintf(r.out, "Streaming the media on %s\n", prepared.url)

	session := playback.New(client, playback.Options{
		SettleDelay: r.cfg.SettleDelay,
		Duration:    prepared.duration,
		Logger:      logger,
	})
	dispatcher := control.NewDispatcher(session, control.Options{
		VolumeStep: r.cfg.VolumeStep,
		Out:        r.out,
		Logger:     logger,
	})

	keys, restore, err := r.keyboard.Open(ctx)
	if err != nil {
		return domain.WrapError(domain.KindInternal, "failed to read keyboard", err)
	}
	defer restore()
	teardown.Push("restore terminal", func() error {
		restore()
		return nil
	})

	dispatcher.Greet()
	if err := dispatcher.Run(ctx, keys); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("session_end")
	return nil
}

func (r *Runner) prepareMedia(
	ctx context.Context,
	logger *slog.Logger,
	teardown *lifecycle.Teardown,
	device *domain.Device,
	kind domain.ReceiverKind,
	source string,
) (*preparedMedia, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, domain.NewError(domain.KindInvalidArguments, "media source is empty")
	}

	if u, ok := remoteURL(source); ok {
		return &preparedMedia{
			url:         source,
			contentType: mimeFor(kind, u.Path, ""),
		}, nil
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidArguments, "invalid media path", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, domain.WrapError(domain.KindInvalidArguments, fmt.Sprintf("cannot read %s", source), err)
	} else if info.IsDir() {
		return nil, domain.NewError(domain.KindInvalidArguments, fmt.Sprintf("%s is a directory", source))
	}

	result, err := r.gate.EnsureCompatible(ctx, abs, kind)
	if err != nil {
		return nil, err
	}
	for _, warning := range result.Warnings {
		logger.Warn("media_warning", slog.String("warning", warning))
		fmt.Fprintf(r.out, "Warning: %s\n", warning)
	}

	prepared := &preparedMedia{duration: result.Duration}
	if result.Task != nil {
		outputPath := result.Task.OutputPath
		teardown.Push("remove transcoded file", func() error {
			return r.removeTemp(outputPath, r.cfg.TempRemoveRetryDelay)
		})
		prepared.loadDuration = result.Duration
	}

	listenAddr, err := r.resolver.ListenAddress(device.Address)
	if err != nil {
		return nil, err
	}

	server, err := r.newServer(result.Path, logger)
	if err != nil {
		return nil, domain.WrapError(domain.KindStreamStartFailed, "failed to prepare media server", err)
	}
	teardown.Push("stop media server", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ServerShutdownWait)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := server.Start(listenAddr); err != nil {
		return nil, domain.WrapError(domain.KindStreamStartFailed, "failed to start media server", err)
	}

	prepared.url = mediaserver.MediaURL(listenAddr, server.Route())
	prepared.contentType = mimeFor(kind, result.Path, result.Path)
	return prepared, nil
}

// remoteURL reports whether source is an http(s) URL that the receiver can
// fetch directly.
func remoteURL(source string) (*url.URL, bool) {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return nil, false
	}
	return u, true
}

// mimeFor builds "<kind>/<ext>" from the media name. When the name has no
// extension and localFile is set, the type is sniffed from its header.
func mimeFor(kind domain.ReceiverKind, name, localFile string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filepath.ToSlash(name))), ".")
	if ext == "" && localFile != "" {
		if match, err := filetype.MatchFile(localFile); err == nil && match != filetype.Unknown {
			ext = match.Extension
		}
	}
	if ext == "" {
		if kind == domain.ReceiverAudioOnly {
			ext = "mpeg"
		} else {
			ext = "mp4"
		}
	}
	return kind.MIMEPrefix() + "/" + ext
}

func (r *Runner) withRetry(ctx context.Context, logger *slog.Logger, operation string, call func() error) error {
	if call == nil {
		return errors.New("retry call is nil")
	}

	attempts := r.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	baseBackoff := max(r.cfg.RetryBaseBackoff, 0)
	maxBackoff := max(r.cfg.RetryMaxBackoff, baseBackoff)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= attempts || !isTransientNetworkError(err) {
			break
		}

		backoff := backoffForAttempt(baseBackoff, maxBackoff, attempt)
		logger.Info("retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("attempts", attempts),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		if waitErr := waitForBackoff(ctx, backoff); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func backoffForAttempt(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if max > 0 && backoff >= max {
			return max
		}
	}
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"temporar",
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"network is unreachable",
		"no route to host",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func unsupportedReceiverError(device *domain.Device) *domain.Error {
	protocol := device.Protocol
	if protocol == "" {
		protocol = "unknown"
	}
	return &domain.Error{
		Kind:    domain.KindUnsupportedReceiver,
		Message: fmt.Sprintf("%s is a %s device, not a Cast receiver", device.Name, protocol),
		Hints: []string{
			"Pick a Chromecast, Google TV or Cast audio device.",
			"Run castkey --list-devices to see what was discovered.",
		},
	}
}
