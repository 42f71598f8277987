package config

import "encoding/json"

const redacted = "[REDACTED]"

// Secret is a credential that prints, logs and marshals as [REDACTED].
// Value returns the real string.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString covers %#v.
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the raw value from YAML or the environment.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the unredacted secret.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether s is non-empty.
func (s Secret) IsSet() bool { return s != "" }
