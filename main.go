package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	go2tvadapters "go2tv.app/castkey/internal/adapters/go2tv"
	"go2tv.app/castkey/internal/beam"
	"go2tv.app/castkey/internal/buildinfo"
	"go2tv.app/castkey/internal/diagnostics"
	"go2tv.app/castkey/internal/discovery"
	"go2tv.app/castkey/internal/domain"
	"go2tv.app/castkey/internal/lifecycle"
	"go2tv.app/castkey/internal/terminal"
)

type selfTestOutput struct {
	App struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"app"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
	} `json:"go2tv_adapters"`
	Dependencies diagnostics.DependencyReport `json:"dependencies"`
}

type cliOptions struct {
	cfg         beam.Config
	showVersion bool
	selfTest    bool
	listDevices bool
}

const listDevicesTimeout = 6 * time.Second

var errUsage = errors.New("expected exactly two arguments: <device-name> <path-or-URL>")

func main() {
	stdout := terminal.ConsoleWriter(os.Stdout, os.Stdin)
	stderr := terminal.ConsoleWriter(os.Stderr, os.Stdin)

	cmd := newRootCommand(stdout, stderr)
	if err := cmd.Execute(); err != nil {
		printError(stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{cfg: beam.ConfigFromEnv(beam.DefaultConfig())}

	cmd := &cobra.Command{
		Use:   "castkey <device-name> <path-or-URL>",
		Short: "Cast a media file to a Cast receiver and control it from the keyboard",
		Long: `Cast a local media file or an http(s) URL to a Cast receiver on the local
network, then control playback with the keyboard. Press h while playing to
list the key maps.

Local files are served over HTTP from this machine. Media the receiver
cannot play is transcoded with ffmpeg when it is installed.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flags.BoolVar(&opts.selfTest, "self-test", false, "run dependency and wiring diagnostics then exit")
	flags.BoolVar(&opts.listDevices, "list-devices", false, "list discovered receivers then exit")
	flags.DurationVar(&opts.cfg.SettleDelay, "settle-delay", opts.cfg.SettleDelay, "wait between a status request and reading the position")
	flags.Float32Var(&opts.cfg.VolumeStep, "volume-step", opts.cfg.VolumeStep, "volume change per up/down key, between 0 and 1")
	flags.StringVar(&opts.cfg.ListenAddress, "listen", opts.cfg.ListenAddress, "ip:port for the media server (default: the route to the receiver)")
	flags.StringVar(&opts.cfg.FFmpegPath, "ffmpeg", opts.cfg.FFmpegPath, "path to ffmpeg")
	flags.StringVar(&opts.cfg.FFprobePath, "ffprobe", opts.cfg.FFprobePath, "path to ffprobe")
	return cmd
}

func run(cmd *cobra.Command, opts *cliOptions, args []string, stdout, stderr io.Writer) error {
	if opts.showVersion {
		fmt.Fprintln(stdout, buildinfo.Version)
		return nil
	}

	bundle := go2tvadapters.NewBundle()
	if opts.selfTest {
		return writeSelfTest(stdout, bundle, opts.cfg)
	}

	if !opts.listDevices && len(args) != 2 {
		_ = cmd.Usage()
		return domain.WrapError(domain.KindInvalidArguments, "bad arguments", errUsage)
	}
	if opts.cfg.VolumeStep <= 0 || opts.cfg.VolumeStep > 1 {
		return domain.NewError(domain.KindInvalidArguments, fmt.Sprintf("--volume-step %v is outside (0, 1]", opts.cfg.VolumeStep))
	}
	if opts.cfg.SettleDelay < 0 {
		return domain.NewError(domain.KindInvalidArguments, "--settle-delay must not be negative")
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logLevel := parseLogLevel(stderr, os.Getenv("CASTKEY_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Info(
		"castkey_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
	)

	discoverySvc := discovery.NewService(bundle.Discovery, runCtx)
	if opts.listDevices {
		return listDevices(runCtx, stdout, discoverySvc)
	}

	runner := beam.NewRunner(opts.cfg, beam.Deps{
		Finder:      discoverySvc,
		CastFactory: bundle.CastFactory,
		Keyboard:    terminal.Keyboard{In: os.Stdin},
		Out:         stdout,
		Logger:      logger,
	})
	return runner.Run(runCtx, args[0], args[1])
}

func writeSelfTest(w io.Writer, bundle go2tvadapters.Bundle, cfg beam.Config) error {
	out := selfTestOutput{
		Dependencies: diagnostics.DetectDependencies(cfg.FFmpegPath, cfg.FFprobePath),
	}
	out.App.Name = "castkey"
	out.App.Version = buildinfo.Version
	out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
	out.Go2TVAdapters.CastWired = bundle.CastFactory != nil

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func listDevices(ctx context.Context, w io.Writer, svc *discovery.Service) error {
	devs, err := svc.List(ctx, listDevicesTimeout)
	if err != nil {
		return domain.WrapError(domain.KindDeviceNotFound, "device discovery failed", err)
	}
	if len(devs) == 0 {
		fmt.Fprintln(w, "No receivers found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTYPE\tADDRESS\tID")
	for _, dev := range devs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", dev.Name, dev.Kind(), dev.Type, dev.Address, dev.ID)
	}
	return tw.Flush()
}

func printError(w io.Writer, err error) {
	var e *domain.Error
	if !errors.As(err, &e) {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %s\n", e.Error())
	for _, hint := range e.Hints {
		fmt.Fprintf(w, "  - %s\n", hint)
	}
}

func parseLogLevel(w io.Writer, raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(w, "invalid CASTKEY_LOG_LEVEL=%q; defaulting to warn\n", raw)
		return slog.LevelWarn
	}
}
