package idgen

import (
	"regexp"
	"testing"
)

var sessionPattern = regexp.MustCompile(`^sess-[0-9a-z]{12}$`)

func TestSession_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		id, err := Session()
		if err != nil {
			t.Fatalf("Session() error: %v", err)
		}
		if !sessionPattern.MatchString(id) {
			t.Fatalf("Session() = %q, want match for %s", id, sessionPattern)
		}
	}
}

func TestSession_Uniqueness(t *testing.T) {
	const count = 5_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id := MustSession()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
