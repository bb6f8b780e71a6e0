package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode decodes one JSON object into its event type.
func Decode(raw []byte) (Event, error) {
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	e, err := New(h.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	return e, nil
}

// SplitFrame splits a frame into its objects. A frame is either a single
// object or an array of objects.
func SplitFrame(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	switch trimmed[0] {
	case '{':
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	case '[':
		var objs []json.RawMessage
		if err := json.Unmarshal(trimmed, &objs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return objs, nil
	default:
		return nil, fmt.Errorf("%w: frame is neither object nor array", ErrMalformed)
	}
}

// Encode marshals e, filling in the type discriminator if unset.
func Encode(e Event) ([]byte, error) {
	if e.Head().Type != e.Kind() {
		e = Clone(e)
	}
	return json.Marshal(e)
}

// Clone returns a shallow copy of e. Payload byte slices are shared and
// must not be mutated.
func Clone(e Event) Event {
	var c Event
	switch v := e.(type) {
	case *Ping:
		x := *v
		c = &x
	case *Pong:
		x := *v
		c = &x
	case *GetAuth:
		x := *v
		c = &x
	case *PutAuth:
		x := *v
		c = &x
	case *HelloConnected:
		x := *v
		c = &x
	case *HelloNoToken:
		x := *v
		c = &x
	case *HelloInvalidToken:
		x := *v
		c = &x
	case *HelloAlreadyConnected:
		x := *v
		c = &x
	case *Bye:
		x := *v
		c = &x
	case *ByeTimeout:
		x := *v
		c = &x
	case *State:
		x := *v
		c = &x
	case *Action:
		x := *v
		c = &x
	case *GetState:
		x := *v
		c = &x
	case *GetConfig:
		x := *v
		c = &x
	case *PutConfig:
		x := *v
		c = &x
	case *UpdateConfig:
		x := *v
		c = &x
	case *GetLog:
		x := *v
		c = &x
	case *Log:
		x := *v
		c = &x
	case *GetSecrets:
		x := *v
		c = &x
	case *PutSecrets:
		x := *v
		c = &x
	case *GetCert:
		x := *v
		c = &x
	case *PutCert:
		x := *v
		c = &x
	default:
		panic(fmt.Sprintf("wire: unhandled event %T", e))
	}
	c.Head().Type = c.Kind()
	return c
}

// WithDst returns a copy of e addressed to dst.
func WithDst(e Event, dst string) Event {
	c := Clone(e)
	c.Head().Dst = dst
	return c
}

// WithSrc returns a copy of e with its source replaced.
func WithSrc(e Event, src string) Event {
	c := Clone(e)
	c.Head().Src = src
	return c
}
