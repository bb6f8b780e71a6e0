// Package addr parses and manipulates bus addresses and entity ids.
//
// An address is one of three shapes: a tree or branch of a tree
// ("tree", "tree:branch"), a UI client ("@7"), or a broadcast group
// ("#clients", "#branches", "#earth", "#server"). Entity ids extend a
// branch address with a leaf and an attribute: "tree:branch:leaf:attr".
package addr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Broadcast groups.
const (
	Clients  = "#clients"
	Branches = "#branches"
	Earth    = "#earth"
	Server   = "#server"
)

// ErrInvalid is returned by Parse for strings that are not addresses.
var ErrInvalid = errors.New("invalid address")

// Address is a parsed address. The concrete type is one of Branch, Client
// or Group.
type Address interface {
	String() string
	address()
}

// Branch addresses a tree, or one branch of a tree when Branch is set.
type Branch struct {
	Tree   string
	Branch string
}

func (b Branch) String() string {
	if b.Branch == "" {
		return b.Tree
	}
	return b.Tree + ":" + b.Branch
}

// Contains reports whether a is b itself or lies inside it. A tree
// contains each of its branches; a branch contains only itself.
func (b Branch) Contains(a Address) bool {
	o, ok := a.(Branch)
	if !ok || o.Tree != b.Tree {
		return false
	}
	return b.Branch == "" || b.Branch == o.Branch
}

// Client addresses a UI client connection.
type Client struct {
	ID int
}

func (c Client) String() string { return "@" + strconv.Itoa(c.ID) }

// Group addresses a broadcast group. Name includes the leading '#'.
type Group struct {
	Name string
}

func (g Group) String() string { return g.Name }

func (Branch) address() {}
func (Client) address() {}
func (Group) address()  {}

// Parse parses s into an Address.
func Parse(s string) (Address, error) {
	switch {
	case s == "":
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	case s[0] == '#':
		name := s[1:]
		if name == "" || strings.ContainsAny(name, ":@#") {
			return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return Group{Name: s}, nil
	case s[0] == '@':
		id, err := strconv.Atoi(s[1:])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return Client{ID: id}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "@#") {
			return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}
	b := Branch{Tree: parts[0]}
	if len(parts) == 2 {
		b.Branch = parts[1]
	}
	return b, nil
}

// IsClient reports whether s is a client address.
func IsClient(s string) bool {
	a, err := Parse(s)
	if err != nil {
		return false
	}
	_, ok := a.(Client)
	return ok
}

// AddrOf returns the address owning eid: the first two segments, or only
// the group segment for group-owned ids ("#earth:leaf:attr" -> "#earth").
// Ids with fewer than two segments are returned unchanged.
func AddrOf(eid string) string {
	parts := strings.Split(eid, ":")
	if strings.HasPrefix(eid, "#") {
		return parts[0]
	}
	if len(parts) < 2 {
		return eid
	}
	return parts[0] + ":" + parts[1]
}

// Lineage drops the attribute segment: "t:b:leaf:attr" -> "t:b:leaf".
// Ids without a ':' are returned unchanged.
func Lineage(eid string) string {
	i := strings.LastIndexByte(eid, ':')
	if i < 0 {
		return eid
	}
	return eid[:i]
}

// Qualify prefixes a bare "leaf:attr" id with owner. Anything else is
// returned unchanged.
func Qualify(eid, owner string) string {
	if strings.Count(eid, ":") != 1 || owner == "" {
		return eid
	}
	return owner + ":" + eid
}
