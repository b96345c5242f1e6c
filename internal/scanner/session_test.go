package scanner

import (
	"bufio"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu       sync.Mutex
	payloads []string
}

func (s *sink) emit(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
}

func (s *sink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

func typeKeys(s *Session, keys ...string) {
	for _, k := range keys {
		s.HandleKey(KeyEvent{Key: k})
	}
}

func TestSessionEmitsOnEnter(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	defer s.Close()

	typeKeys(s, "A", "B", "C", KeyEnter)
	assert.Equal(t, []string{"ABC"}, out.got())
	assert.Empty(t, s.Buffered())

	typeKeys(s, KeyEnter)
	assert.Equal(t, []string{"ABC"}, out.got(), "enter on empty buffer is a no-op")
}

func TestSessionQuietPeriodClearsBuffer(t *testing.T) {
	out := &sink{}
	s := NewSession(20*time.Millisecond, out.emit)
	defer s.Close()

	typeKeys(s, "A", "B")
	require.Eventually(t, func() bool { return s.Buffered() == "" }, time.Second, 5*time.Millisecond)

	typeKeys(s, KeyEnter)
	assert.Empty(t, out.got())
}

func TestSessionKeystrokesRearmTimer(t *testing.T) {
	out := &sink{}
	s := NewSession(60*time.Millisecond, out.emit)
	defer s.Close()

	for _, k := range []string{"Q", "R", "-", "7"} {
		s.HandleKey(KeyEvent{Key: k})
		time.Sleep(25 * time.Millisecond)
	}
	typeKeys(s, KeyEnter)
	assert.Equal(t, []string{"QR-7"}, out.got())
}

func TestSessionIgnoresOtherKeys(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	defer s.Close()

	typeKeys(s, "Shift", "X", "Tab", "ArrowLeft", "1", "\x1b", KeyEnter)
	assert.Equal(t, []string{"X1"}, out.got())
}

func TestSessionTrimsPayload(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	defer s.Close()

	typeKeys(s, " ", "i", "d", " ", KeyEnter)
	typeKeys(s, " ", " ", KeyEnter)
	assert.Equal(t, []string{"id"}, out.got(), "whitespace-only buffers emit nothing")
}

func TestSessionOpticalMode(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	defer s.Close()

	assert.ErrorIs(t, s.Deliver("X"), ErrWrongMode)

	typeKeys(s, "A")
	s.SetMode(ModeOptical)
	assert.Empty(t, s.Buffered(), "switching modes drops partial input")

	typeKeys(s, "B", KeyEnter)
	require.NoError(t, s.Deliver("  badge-42 \n"))
	assert.Equal(t, []string{"badge-42"}, out.got())

	s.SetMode(ModeWedge)
	typeKeys(s, "C", KeyEnter)
	assert.Equal(t, []string{"badge-42", "C"}, out.got())
}

func TestSessionClosed(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	s.Close()

	typeKeys(s, "A", KeyEnter)
	assert.Empty(t, out.got())
	s.SetMode(ModeOptical)
	assert.ErrorIs(t, s.Deliver("A"), ErrClosed)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("optical")
	require.NoError(t, err)
	assert.Equal(t, ModeOptical, m)
	m, err = ParseMode("usb")
	require.NoError(t, err)
	assert.Equal(t, ModeWedge, m)
	_, err = ParseMode("nfc")
	assert.Error(t, err)
}

func TestReadKeys(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	defer s.Close()

	err := ReadKeys(bufio.NewReader(strings.NewReader("STU-001\r\x1bABC\n\r")), s.HandleKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"STU-001", "ABC"}, out.got())

	err = ReadKeys(bufio.NewReader(strings.NewReader("AB\x03CD\r")), s.HandleKey)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, "AB", s.Buffered())
}

func TestReadKeysSkipsEscapeSequences(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "arrow left", input: "\x1b[DQR-1\r"},
		{name: "arrow mid scan", input: "QR\x1b[A-1\r"},
		{name: "ss3 function key", input: "\x1bOPQR-1\r"},
		{name: "csi function key", input: "\x1b[15~QR-1\r"},
		{name: "modified arrow", input: "Q\x1b[1;5CR-1\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &sink{}
			s := NewSession(time.Second, out.emit)
			defer s.Close()

			require.NoError(t, ReadKeys(bufio.NewReader(strings.NewReader(tt.input)), s.HandleKey))
			assert.Equal(t, []string{"QR-1"}, out.got())
		})
	}
}

func TestReadKeysTruncatedEscape(t *testing.T) {
	out := &sink{}
	s := NewSession(time.Second, out.emit)
	defer s.Close()

	require.NoError(t, ReadKeys(bufio.NewReader(strings.NewReader("AB\x1b[1")), s.HandleKey))
	assert.Equal(t, "AB", s.Buffered())
	assert.Empty(t, out.got())
}

