package addr

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Address
	}{
		{"t1", Branch{Tree: "t1"}},
		{"t1:b2", Branch{Tree: "t1", Branch: "b2"}},
		{"@7", Client{ID: 7}},
		{"#clients", Group{Name: "#clients"}},
		{"#branches", Group{Name: "#branches"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "#", "@", "@x", "@-1", "a:b:c", ":b", "a:", "a@b", "#a:b"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalid", in, err)
		}
	}
}

func TestBranchContains(t *testing.T) {
	tree := Branch{Tree: "t1"}
	tests := []struct {
		a    Address
		want bool
	}{
		{Branch{Tree: "t1"}, true},
		{Branch{Tree: "t1", Branch: "b"}, true},
		{Branch{Tree: "t10", Branch: "b"}, false},
		{Client{ID: 1}, false},
		{Group{Name: Branches}, false},
	}
	for _, tt := range tests {
		if got := tree.Contains(tt.a); got != tt.want {
			t.Errorf("%v.Contains(%v) = %v, want %v", tree, tt.a, got, tt.want)
		}
	}

	branch := Branch{Tree: "t1", Branch: "b"}
	if branch.Contains(Branch{Tree: "t1", Branch: "c"}) {
		t.Error("branch b should not contain sibling c")
	}
	if branch.Contains(Branch{Tree: "t1"}) {
		t.Error("branch should not contain its tree")
	}
}

func TestAddrOf(t *testing.T) {
	tests := map[string]string{
		"t1:b2:leaf:attr":      "t1:b2",
		"t1:b2":                "t1:b2",
		"#earth:counter:count": "#earth",
		"t1":                   "t1",
		"":                     "",
	}
	for in, want := range tests {
		if got := AddrOf(in); got != want {
			t.Errorf("AddrOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLineage(t *testing.T) {
	tests := map[string]string{
		"t1:b2:leaf:attr": "t1:b2:leaf",
		"leaf:attr":       "leaf",
		"noseparator":     "noseparator",
	}
	for in, want := range tests {
		if got := Lineage(in); got != want {
			t.Errorf("Lineage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestQualify(t *testing.T) {
	tests := []struct {
		eid, owner, want string
	}{
		{"leaf:attr", "t1:b2", "t1:b2:leaf:attr"},
		{"counter:count", Earth, "#earth:counter:count"},
		{"t1:b2:leaf:attr", "t9:b9", "t1:b2:leaf:attr"},
		{"bare", "t1:b2", "bare"},
		{"leaf:attr", "", "leaf:attr"},
	}
	for _, tt := range tests {
		if got := Qualify(tt.eid, tt.owner); got != tt.want {
			t.Errorf("Qualify(%q, %q) = %q, want %q", tt.eid, tt.owner, got, tt.want)
		}
	}
}

func TestIsClient(t *testing.T) {
	if !IsClient("@3") {
		t.Error("@3 should be a client")
	}
	for _, s := range []string{"t1", "#clients", "@", ""} {
		if IsClient(s) {
			t.Errorf("%q should not be a client", s)
		}
	}
}
