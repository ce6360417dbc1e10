// Package console is the kernel's output device: a UART that everything,
// log lines included, is written through.
package console

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// UART transmits bytes to an underlying writer one at a time, the way
// uart_putc does on the real device.
type UART struct {
	mu  sync.Mutex
	out io.Writer
	n   int64
}

func NewUART(out io.Writer) *UART {
	return &UART{out: out}
}

// Putc sends one byte.
func (u *UART) Putc(c byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.putc(c)
}

func (u *UART) putc(c byte) error {
	if _, err := u.out.Write([]byte{c}); err != nil {
		return errors.Wrap(err, "uart")
	}
	u.n++
	return nil
}

// Write sends p, holding the line so concurrent writers don't interleave.
func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, c := range p {
		if err := u.putc(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Transmitted counts bytes sent so far.
func (u *UART) Transmitted() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.n
}

// NewLogger returns a logger writing to w at the named level ("info",
// "debug", "trace", ...).
func NewLogger(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	})
	return log, nil
}
