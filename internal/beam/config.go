package beam

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go2tv.app/castkey/internal/control"
	"go2tv.app/castkey/internal/playback"
)

const (
	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 120 * time.Millisecond
	defaultRetryMaxBackoff  = 800 * time.Millisecond

	defaultTempRemoveRetryDelay = 500 * time.Millisecond
	defaultServerShutdownWait   = 2 * time.Second
)

// Config is built once at startup and handed to the Runner. Nothing in it
// changes during a session.
type Config struct {
	// SettleDelay is the wait between a status request and reading the
	// refreshed position.
	SettleDelay time.Duration
	// VolumeStep is the change per volume key on a 0..1 scale.
	VolumeStep float32
	// ListenAddress overrides the media server's ip:port.
	ListenAddress string

	FFmpegPath  string
	FFprobePath string
	// TempDir holds transcoded output; empty means os.TempDir.
	TempDir string

	RetryAttempts    int
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration

	TempRemoveRetryDelay time.Duration
	ServerShutdownWait   time.Duration
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:          playback.DefaultSettleDelay,
		VolumeStep:           control.DefaultVolumeStep,
		RetryAttempts:        defaultRetryAttempts,
		RetryBaseBackoff:     defaultRetryBaseBackoff,
		RetryMaxBackoff:      defaultRetryMaxBackoff,
		TempRemoveRetryDelay: defaultTempRemoveRetryDelay,
		ServerShutdownWait:   defaultServerShutdownWait,
	}
}

// ConfigFromEnv overlays CASTKEY_* variables on base. Unparseable values
// keep the base value.
func ConfigFromEnv(base Config) Config {
	cfg := base
	cfg.SettleDelay = durationEnv("CASTKEY_SETTLE_DELAY", cfg.SettleDelay)
	cfg.VolumeStep = float32Env("CASTKEY_VOLUME_STEP", cfg.VolumeStep)
	cfg.ListenAddress = stringEnv("CASTKEY_LISTEN", cfg.ListenAddress)
	cfg.FFmpegPath = stringEnv("CASTKEY_FFMPEG", cfg.FFmpegPath)
	cfg.FFprobePath = stringEnv("CASTKEY_FFPROBE", cfg.FFprobePath)
	cfg.TempDir = stringEnv("CASTKEY_TEMP_DIR", cfg.TempDir)
	cfg.RetryAttempts = intEnv("CASTKEY_RETRY_ATTEMPTS", cfg.RetryAttempts)
	return cfg
}

func stringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func intEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func float32Env(key string, fallback float32) float32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 32)
	if err != nil || parsed <= 0 || parsed > 1 {
		return fallback
	}
	return float32(parsed)
}
