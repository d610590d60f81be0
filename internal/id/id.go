// Package id mints and validates the opaque UUID-v4 identifiers used as
// keys throughout the executor: Pile entries, Events, log records.
package id

import (
	"github.com/google/uuid"

	"go.lionforge.dev/internal/corefail"
)

// ID is an opaque 128-bit identifier with a canonical UUID-v4 textual form.
// Equality is value equality; ordering is undefined.
type ID struct {
	u uuid.UUID
}

// New mints a fresh v4 identifier.
func New() ID {
	return ID{u: uuid.New()}
}

// Parse validates s as a UUID-v4 string and returns the corresponding ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, corefail.Wrap(corefail.KindConfigurationError, "INVALID_ID", "value is not a valid UUID", err)
	}
	if u.Version() != 4 {
		return ID{}, corefail.New(corefail.KindConfigurationError, "INVALID_ID", "value must be a UUID4")
	}
	return ID{u: u}, nil
}

// MustParse is Parse but panics on error; for use with known-good literals
// in tests.
func MustParse(s string) ID {
	i, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return i
}

// String renders the canonical textual form.
func (i ID) String() string { return i.u.String() }

// IsZero reports whether this is the zero-value ID (never minted by New).
func (i ID) IsZero() bool { return i.u == uuid.Nil }

// MarshalText implements encoding.TextMarshaler so ID can be a map key or a
// JSON string field directly.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.u.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
