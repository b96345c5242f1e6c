// Package scanner frames the keystroke stream of a keyboard-wedge QR reader into
// scan payloads.
//
// A Session is the exclusive consumer of raw key events for one input device
// while it is open. In wedge mode characters accumulate in a buffer until the
// reader sends Enter; a buffer that stays idle for the quiet period is dropped,
// which also debounces a person typing into the same input by hand. In optical
// mode an external image decoder hands complete payloads to Deliver and the
// buffer is bypassed.
package scanner

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// DefaultQuietPeriod is how long a partial scan may sit in the buffer.
const DefaultQuietPeriod = time.Second

// KeyEnter is the key value of the terminator event.
const KeyEnter = "Enter"

// Mode selects where payloads come from.
type Mode int

const (
	ModeWedge Mode = iota
	ModeOptical
)

func (m Mode) String() string {
	if m == ModeOptical {
		return "optical"
	}
	return "wedge"
}

// ParseMode maps a configuration value onto a Mode.
func ParseMode(v string) (Mode, error) {
	switch v {
	case "wedge", "usb":
		return ModeWedge, nil
	case "optical", "camera":
		return ModeOptical, nil
	}
	return 0, errors.Errorf("unknown scan mode %q", v)
}

var (
	ErrWrongMode = errors.New("input not accepted in current scan mode")
	ErrClosed    = errors.New("scan session closed")
)

// KeyEvent is one key press as reported by the input device. Key holds either
// a single character or a key name such as "Enter" or "Shift".
type KeyEvent struct {
	Key string
}

// Session owns the accumulation buffer and its inactivity timer.
type Session struct {
	quiet  time.Duration
	emit   func(payload string)
	mu     sync.Mutex
	mode   Mode
	buf    strings.Builder
	timer  *time.Timer
	gen    uint64
	closed bool
}

// NewSession starts a session in wedge mode. emit is called synchronously, once
// per payload, from the goroutine that delivered the terminating event.
func NewSession(quiet time.Duration, emit func(payload string)) *Session {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Session{quiet: quiet, emit: emit, mode: ModeWedge}
}

// Mode returns the active mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the session. Any partial wedge input is discarded.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.resetLocked()
}

// HandleKey feeds one key event. Printable single characters extend the buffer
// and re-arm the quiet timer; Enter emits the trimmed buffer if there is one;
// anything else is ignored. Events are ignored outside wedge mode.
func (s *Session) HandleKey(ev KeyEvent) {
	s.mu.Lock()
	if s.closed || s.mode != ModeWedge {
		s.mu.Unlock()
		return
	}

	if ev.Key == KeyEnter {
		raw := s.buf.String()
		s.resetLocked()
		s.mu.Unlock()
		if payload := strings.TrimSpace(raw); payload != "" {
			s.emit(payload)
		}
		return
	}

	if isChar(ev.Key) {
		s.buf.WriteString(ev.Key)
		s.armLocked()
	}
	s.mu.Unlock()
}

// Deliver passes a payload decoded optically straight through.
func (s *Session) Deliver(payload string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.mode != ModeOptical:
		s.mu.Unlock()
		return ErrWrongMode
	}
	s.mu.Unlock()

	if payload = strings.TrimSpace(payload); payload != "" {
		s.emit(payload)
	}
	return nil
}

// Buffered returns the current partial input.
func (s *Session) Buffered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Close stops the timer and rejects further input.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.resetLocked()
}

func (s *Session) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.quiet, func() { s.expire(gen) })
}

// expire clears the buffer unless a newer key re-armed the timer in the meantime.
func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.resetLocked()
	}
}

func (s *Session) resetLocked() {
	s.buf.Reset()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func isChar(key string) bool {
	r, size := utf8.DecodeRuneInString(key)
	return size > 0 && size == len(key) && r != utf8.RuneError && unicode.IsPrint(r)
}
