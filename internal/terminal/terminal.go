package terminal

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"go2tv.app/castkey/internal/control"
)

// Keyboard reads key presses from a terminal in raw mode.
type Keyboard struct {
	In *os.File
}

// Open switches In to raw mode when it is a terminal and starts reading
// keys. The returned restore func must run on every exit path; it is safe
// to call more than once. When In is not a terminal, input is read as is.
//
// The reader goroutine blocks in Read and only exits when In is closed or
// reaches EOF; the channel is closed at that point.
func (k Keyboard) Open(ctx context.Context) (<-chan control.Key, func(), error) {
	restore := func() {}

	fd := int(k.In.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, nil, err
		}
		restored := false
		restore = func() {
			if restored {
				return
			}
			restored = true
			_ = term.Restore(fd, state)
		}
	}

	return ReadKeys(ctx, k.In), restore, nil
}

// escapeWait is how long a trailing ESC waits for the rest of an arrow key
// before it counts as the escape key on its own.
const escapeWait = 25 * time.Millisecond

// ReadKeys decodes r into keys until r fails or ctx is done.
func ReadKeys(ctx context.Context, r io.Reader) <-chan control.Key {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	keys := make(chan control.Key)
	go func() {
		defer close(keys)
		send := func(batch []control.Key) bool {
			for _, key := range batch {
				select {
				case keys <- key:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		var dec Decoder
		var flush <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					send(dec.Flush())
					return
				}
				if !send(dec.Feed(chunk)) {
					return
				}
				flush = nil
				if dec.Pending() {
					flush = time.After(escapeWait)
				}
			case <-flush:
				flush = nil
				if !send(dec.Flush()) {
					return
				}
			}
		}
	}()
	return keys
}

// ConsoleWriter returns w wrapped in a CRLFWriter when in is a terminal,
// i.e. when Keyboard.Open will put it in raw mode.
func ConsoleWriter(w io.Writer, in *os.File) io.Writer {
	if in != nil && term.IsTerminal(int(in.Fd())) {
		return CRLFWriter{W: w}
	}
	return w
}

// CRLFWriter expands "\n" to "\r\n". Raw mode disables output
// post-processing, so plain newlines would not return the cursor.
type CRLFWriter struct {
	W io.Writer
}

func (c CRLFWriter) Write(p []byte) (int, error) {
	if _, err := c.W.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
