package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go2tv.app/castkey/internal/playback"
)

// DefaultVolumeStep is the volume change per arrow press, on a 0..1 scale.
const DefaultVolumeStep float32 = 0.05

// Player is the playback surface the keymap drives. *playback.Session
// implements it.
type Player interface {
	Switch() error
	Seek(position float64) error
	Forward(ctx context.Context, seconds float64) error
	Backward(ctx context.Context, seconds float64) error
	SeekPercent(n int) error
	VolumeUp(delta float32) error
	VolumeDown(delta float32) error
}

var _ Player = (*playback.Session)(nil)

type Outcome int

const (
	Continue Outcome = iota
	Halt
)

// Binding maps one key to one action. Bindings with an empty Help share a
// line with another key in the help listing.
type Binding struct {
	Key      Key
	Help     string
	Exit     bool
	ShowHelp bool
	Run      func(ctx context.Context, p Player) error
}

type Options struct {
	VolumeStep float32
	Out        io.Writer
	Logger     *slog.Logger
}

// Dispatcher runs the keyboard control loop. Each key is handled to
// completion before the next one is read.
type Dispatcher struct {
	player Player
	keymap map[Key]Binding
	help   string
	out    io.Writer
	logger *slog.Logger
}

func NewDispatcher(player Player, opts Options) *Dispatcher {
	step := opts.VolumeStep
	if step <= 0 {
		step = DefaultVolumeStep
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bindings := DefaultBindings(step)
	keymap := make(map[Key]Binding, len(bindings))
	for _, b := range bindings {
		keymap[b.Key] = b
	}

	return &Dispatcher{
		player: player,
		keymap: keymap,
		help:   helpText(bindings),
		out:    out,
		logger: logger,
	}
}

// DefaultBindings is the fixed keymap.
func DefaultBindings(volumeStep float32) []Binding {
	forward := func(sec float64) func(context.Context, Player) error {
		return func(ctx context.Context, p Player) error { return p.Forward(ctx, sec) }
	}
	backward := func(sec float64) func(context.Context, Player) error {
		return func(ctx context.Context, p Player) error { return p.Backward(ctx, sec) }
	}

	bindings := []Binding{
		{Key: 'q', Help: "q, <esc>: exit", Exit: true},
		{Key: KeyEsc, Exit: true},
		{Key: KeyInterrupt, Exit: true},
		{Key: KeySpace, Help: "<space>: pause/play", Run: func(_ context.Context, p Player) error { return p.Switch() }},

		{Key: KeyRight, Help: "<right-arrow>: forward by 10sec", Run: forward(10)},
		{Key: 'f', Help: "f: forward by 1min", Run: forward(60)},
		{Key: 'F', Help: "F: forward by 5min", Run: forward(300)},

		{Key: KeyLeft, Help: "<left-arrow>: backward by 10sec", Run: backward(10)},
		{Key: 'b', Help: "b: backward by 1min", Run: backward(60)},
		{Key: 'B', Help: "B: backward by 5min", Run: backward(300)},

		{Key: 'i', Help: "i: seek to the start position", Run: func(_ context.Context, p Player) error { return p.Seek(0) }},
		{Key: KeyUp, Help: "<up-arrow>: volume up", Run: func(_ context.Context, p Player) error { return p.VolumeUp(volumeStep) }},
		{Key: KeyDown, Help: "<down-arrow>: volume down", Run: func(_ context.Context, p Player) error { return p.VolumeDown(volumeStep) }},
	}

	for n := range 10 {
		b := Binding{
			Key: Key('0' + n),
			Run: func(_ context.Context, p Player) error { return p.SeekPercent(n) },
		}
		if n == 0 {
			b.Help = "0-9: seek to 0%..90% of the duration"
		}
		bindings = append(bindings, b)
	}

	return append(bindings, Binding{Key: 'h', Help: "h: show key maps", ShowHelp: true})
}

// Greet prints the startup hints.
func (d *Dispatcher) Greet() {
	fmt.Fprintln(d.out, "Press q to exit.")
	fmt.Fprintln(d.out, "Press h to show key maps.")
}

// Dispatch handles one key. Unmapped keys are ignored. Command failures are
// reported and do not stop the loop.
func (d *Dispatcher) Dispatch(ctx context.Context, key Key) Outcome {
	b, ok := d.keymap[key]
	if !ok {
		d.logger.Debug("key_ignored", slog.String("key", key.String()))
		return Continue
	}
	if b.Exit {
		fmt.Fprintln(d.out, "Exit.")
		return Halt
	}
	if b.ShowHelp {
		fmt.Fprint(d.out, d.help)
		return Continue
	}
	if b.Run == nil {
		return Continue
	}

	d.logger.Debug("key_dispatch", slog.String("key", key.String()))
	if err := b.Run(ctx, d.player); err != nil {
		switch {
		case errors.Is(err, playback.ErrUnknownDuration):
			fmt.Fprintln(d.out, "Duration is unknown; percentage seek is unavailable.")
		case ctx.Err() != nil:
			return Continue
		default:
			d.logger.Warn("key_command_failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(d.out, "Command failed: %v\n", err)
		}
	}
	return Continue
}

// Run reads keys until an exit key, a closed channel or a cancelled ctx.
func (d *Dispatcher) Run(ctx context.Context, keys <-chan Key) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			if d.Dispatch(ctx, key) == Halt {
				return nil
			}
		}
	}
}

func helpText(bindings []Binding) string {
	var b strings.Builder
	b.WriteString("\nKeymaps:\n")
	for _, binding := range bindings {
		if binding.Help == "" {
			continue
		}
		b.WriteString("    ")
		b.WriteString(binding.Help)
		b.WriteString("\n")
	}
	return b.String()
}
