package main

import (
	"testing"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

func TestSummary(t *testing.T) {
	st, err := wire.NewState("oak:b", addr.Clients, "oak:b:led:on", true, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		e    wire.Event
		want string
	}{
		{st, "oak:b:led:on=true"},
		{&wire.Action{EID: "oak:b:counter:count", Action: "reset"}, "oak:b:counter:count reset"},
		{&wire.Log{Levelname: "ERROR", Message: "disk full"}, "ERROR disk full"},
		{wire.Make(wire.TypePing, "oak", addr.Server), ""},
	} {
		if got := summary(tc.e); got != tc.want {
			t.Errorf("summary(%s) = %q, want %q", tc.e.Kind(), got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := parseLevel("warn"); err != nil || l.String() != "WARN" {
		t.Errorf("parseLevel(warn) = %v, %v", l, err)
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
