// Package idgen generates connection session ids.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	sessionPrefix = "sess-"
	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
	length        = 12
)

// Session returns a new session id such as "sess-3k9d0a1x7qzm".
func Session() (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return sessionPrefix + id, nil
}

// MustSession is Session for callers with no way to report an error; it
// falls back to an id without randomness rather than failing.
func MustSession() string {
	id, err := Session()
	if err != nil {
		return sessionPrefix + "unknown"
	}
	return id
}
