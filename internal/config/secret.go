package config

import (
	"encoding/json"
	"log/slog"
)

const redacted = "[REDACTED]"

// Secret is a string that never renders its value through fmt, slog or
// encoding/json. Use Reveal at the single point the value is consumed.
type Secret string

// Reveal returns the underlying value.
func (s Secret) Reveal() string {
	return string(s)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s == ""
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return redacted
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}
