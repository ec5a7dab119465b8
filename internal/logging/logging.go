// Package logging provides the go-logging backend shared by the protocol
// packages. Crypto packages never log.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const format = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Backend wraps a leveled go-logging backend with runtime level control.
type Backend struct {
	mu      sync.Mutex
	leveled logging.LeveledBackend
	level   logging.Level
}

// New creates a backend writing to w at the given level name
// (ERROR, WARNING, NOTICE, INFO, DEBUG). A nil w discards everything.
func New(w io.Writer, level string) (*Backend, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = io.Discard
	}
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(format))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")
	return &Backend{leveled: leveled, level: lvl}, nil
}

// NewStderr is a convenience constructor used by the command line tools.
func NewStderr(level string) (*Backend, error) {
	return New(os.Stderr, level)
}

// Logger returns a module logger bound to this backend.
func (b *Backend) Logger(module string) *logging.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := logging.MustGetLogger(module)
	l.SetBackend(b.leveled)
	return l
}

// SetLevel changes the level for all modules on this backend.
func (b *Backend) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leveled.SetLevel(lvl, "")
	b.level = lvl
	return nil
}

// ParseLevel maps a level name to a go-logging level.
func ParseLevel(level string) (logging.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return 0, fmt.Errorf("invalid log level: %q", level)
	}
}

var (
	discardOnce sync.Once
	discard     *Backend
)

// Discard returns a shared backend that drops all output. Packages use it
// when the caller does not supply a backend.
func Discard() *Backend {
	discardOnce.Do(func() {
		b, err := New(io.Discard, "ERROR")
		if err != nil {
			panic(err)
		}
		discard = b
	})
	return discard
}
