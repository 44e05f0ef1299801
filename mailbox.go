package sharedimage

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Mailbox names one shared image. It is generated by whoever creates the
// image and is only compared, never interpreted.
type Mailbox [16]byte

// NewMailbox returns a fresh random mailbox.
func NewMailbox() Mailbox {
	return Mailbox(uuid.New())
}

// ParseMailbox parses the canonical UUID form or the 32-digit hex form
// produced by String.
func ParseMailbox(s string) (Mailbox, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Mailbox{}, fmt.Errorf("sharedimage: parse mailbox %q: %w", s, err)
	}
	return Mailbox(u), nil
}

// IsZero reports whether m is the zero mailbox.
func (m Mailbox) IsZero() bool { return m == Mailbox{} }

// Compare orders mailboxes bytewise.
func (m Mailbox) Compare(o Mailbox) int { return bytes.Compare(m[:], o[:]) }

// String returns the mailbox as 32 lowercase hex digits.
func (m Mailbox) String() string { return hex.EncodeToString(m[:]) }

// LogValue implements slog.LogValuer.
func (m Mailbox) LogValue() slog.Value { return slog.StringValue(m.String()) }
