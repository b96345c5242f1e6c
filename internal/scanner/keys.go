package scanner

import (
	"io"

	"github.com/pkg/errors"
)

// ErrInterrupted is returned by ReadKeys when the operator presses Ctrl-C on a
// raw terminal.
var ErrInterrupted = errors.New("interrupted")

const (
	ctrlC = 0x03
	esc   = 0x1b
)

// ReadKeys translates a raw terminal byte stream into key events until r is
// exhausted. Carriage return and line feed become Enter. Other control bytes
// and whole escape sequences (arrows, function keys) are each reported as one
// "Unidentified" key so the session ignores them.
func ReadKeys(r io.RuneScanner, handle func(KeyEvent)) error {
	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read key")
		}
		switch {
		case c == ctrlC:
			return ErrInterrupted
		case c == '\r' || c == '\n':
			handle(KeyEvent{Key: KeyEnter})
		case c == esc:
			if err := skipEscape(r); err != nil {
				return err
			}
			handle(KeyEvent{Key: "Unidentified"})
		case c < 0x20 || c == 0x7f:
			handle(KeyEvent{Key: "Unidentified"})
		default:
			handle(KeyEvent{Key: string(c)})
		}
	}
}

// skipEscape consumes the rest of a CSI (ESC [ params final) or SS3 (ESC O
// final) sequence. A lone ESC leaves the following rune unread.
func skipEscape(r io.RuneScanner) error {
	c, _, err := r.ReadRune()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read key")
	}
	switch c {
	case 'O':
		_, _, err = r.ReadRune()
	case '[':
		// parameter and intermediate bytes run until a final byte in 0x40-0x7e
		for {
			c, _, err = r.ReadRune()
			if err != nil || (c >= 0x40 && c <= 0x7e) {
				break
			}
		}
	default:
		return errors.Wrap(r.UnreadRune(), "unread key")
	}
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "read key")
	}
	return nil
}
