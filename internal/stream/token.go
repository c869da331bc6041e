package stream

import (
	"fmt"

	"github.com/google/uuid"
)

// Token names one generation job. It is handed to the client and doubles
// as the registry key.
type Token = uuid.UUID

// NewToken returns a fresh random (version 4) token.
func NewToken() Token {
	return uuid.New()
}

// ParseToken parses the canonical textual form of a job token. Anything
// that is not a version 4 UUID is rejected.
func ParseToken(s string) (Token, error) {
	if len(s) != 36 {
		return uuid.Nil, fmt.Errorf("invalid job token %q", s)
	}
	t, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job token %q: %w", s, err)
	}
	if t.Version() != 4 || t.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("invalid job token %q: not a v4 uuid", s)
	}
	return t, nil
}
