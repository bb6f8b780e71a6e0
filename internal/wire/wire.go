// Package wire defines the events carried by the bus and over connections.
//
// Every event is a JSON object with a "type" discriminator plus optional
// "src" and "dst" routing fields. The set of types is closed: Decode
// rejects anything it does not know, and each type has exactly one Go
// struct implementing Event.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Type is the wire discriminator.
type Type string

const (
	TypePing                  Type = "ping"
	TypePong                  Type = "pong"
	TypeGetAuth               Type = "get_auth"
	TypePutAuth               Type = "put_auth"
	TypeHelloConnected        Type = "hello_connected"
	TypeHelloNoToken          Type = "hello_no_token"
	TypeHelloInvalidToken     Type = "hello_invalid_token"
	TypeHelloAlreadyConnected Type = "hello_already_connected"
	TypeBye                   Type = "bye"
	TypeByeTimeout            Type = "bye_timeout"
	TypeState                 Type = "state"
	TypeAction                Type = "action"
	TypeGetState              Type = "get_state"
	TypeGetConfig             Type = "get_config"
	TypePutConfig             Type = "put_config"
	TypeUpdateConfig          Type = "update_config"
	TypeGetLog                Type = "get_log"
	TypeLog                   Type = "log"
	TypeGetSecrets            Type = "get_secrets"
	TypePutSecrets            Type = "put_secrets"
	TypeGetCert               Type = "get_cert"
	TypePutCert               Type = "put_cert"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrMalformed   = errors.New("malformed frame")
)

// Header carries the discriminator and routing fields shared by all events.
type Header struct {
	Type Type   `json:"type"`
	Src  string `json:"src,omitempty"`
	Dst  string `json:"dst,omitempty"`
}

// Head returns h. It is promoted to every event type.
func (h *Header) Head() *Header { return h }

// Event is implemented by exactly the structs in this package.
type Event interface {
	Kind() Type
	Head() *Header
}

type Ping struct{ Header }
type Pong struct{ Header }
type GetAuth struct{ Header }

type PutAuth struct {
	Header
	Token string `json:"token"`
}

// Versions are the hub-side versions of the documents a gateway caches.
type Versions struct {
	Config      string `json:"config"`
	Secrets     string `json:"secrets,omitempty"`
	Certificate string `json:"certificate,omitempty"`
}

// Params is the payload of hello_connected.
type Params struct {
	ClientAddr      string   `json:"client_addr"`
	TimeoutInterval float64  `json:"timeout_interval"`
	Versions        Versions `json:"versions"`
	Host            string   `json:"host,omitempty"`
}

// Interval returns TimeoutInterval as a duration.
func (p Params) Interval() time.Duration {
	return time.Duration(p.TimeoutInterval * float64(time.Second))
}

type HelloConnected struct {
	Header
	Param Params `json:"param"`
}

type HelloNoToken struct{ Header }
type HelloInvalidToken struct{ Header }
type HelloAlreadyConnected struct{ Header }
type Bye struct{ Header }
type ByeTimeout struct{ Header }

type State struct {
	Header
	EID       string          `json:"eid"`
	Value     json.RawMessage `json:"value"`
	Timestamp float64         `json:"timestamp"`
}

type Action struct {
	Header
	EID    string          `json:"eid"`
	Action string          `json:"action"`
	Param  json.RawMessage `json:"param,omitempty"`
}

type GetState struct{ Header }

type GetConfig struct {
	Header
	Data json.RawMessage `json:"data,omitempty"`
}

type PutConfig struct {
	Header
	Data json.RawMessage `json:"data"`
}

type UpdateConfig struct {
	Header
	Data json.RawMessage `json:"data"`
}

type GetLog struct{ Header }

// Log mirrors a log record. Levelno uses the 10/20/30/40/50 scale.
type Log struct {
	Header
	Levelname string  `json:"levelname"`
	Levelno   int     `json:"levelno"`
	Name      string  `json:"name"`
	FuncName  string  `json:"funcName"`
	Message   string  `json:"message"`
	Traceback string  `json:"traceback,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// LevelError is the lowest Levelno kept by log history.
const LevelError = 40

type GetSecrets struct{ Header }

type PutSecrets struct {
	Header
	Data json.RawMessage `json:"data"`
}

type GetCert struct{ Header }

type PutCert struct {
	Header
	Data json.RawMessage `json:"data"`
}

func (*Ping) Kind() Type                  { return TypePing }
func (*Pong) Kind() Type                  { return TypePong }
func (*GetAuth) Kind() Type               { return TypeGetAuth }
func (*PutAuth) Kind() Type               { return TypePutAuth }
func (*HelloConnected) Kind() Type        { return TypeHelloConnected }
func (*HelloNoToken) Kind() Type          { return TypeHelloNoToken }
func (*HelloInvalidToken) Kind() Type     { return TypeHelloInvalidToken }
func (*HelloAlreadyConnected) Kind() Type { return TypeHelloAlreadyConnected }
func (*Bye) Kind() Type                   { return TypeBye }
func (*ByeTimeout) Kind() Type            { return TypeByeTimeout }
func (*State) Kind() Type                 { return TypeState }
func (*Action) Kind() Type                { return TypeAction }
func (*GetState) Kind() Type              { return TypeGetState }
func (*GetConfig) Kind() Type             { return TypeGetConfig }
func (*PutConfig) Kind() Type             { return TypePutConfig }
func (*UpdateConfig) Kind() Type          { return TypeUpdateConfig }
func (*GetLog) Kind() Type                { return TypeGetLog }
func (*Log) Kind() Type                   { return TypeLog }
func (*GetSecrets) Kind() Type            { return TypeGetSecrets }
func (*PutSecrets) Kind() Type            { return TypePutSecrets }
func (*GetCert) Kind() Type               { return TypeGetCert }
func (*PutCert) Kind() Type               { return TypePutCert }

// New returns a zero event of type t with its header type set.
func New(t Type) (Event, error) {
	var e Event
	switch t {
	case TypePing:
		e = &Ping{}
	case TypePong:
		e = &Pong{}
	case TypeGetAuth:
		e = &GetAuth{}
	case TypePutAuth:
		e = &PutAuth{}
	case TypeHelloConnected:
		e = &HelloConnected{}
	case TypeHelloNoToken:
		e = &HelloNoToken{}
	case TypeHelloInvalidToken:
		e = &HelloInvalidToken{}
	case TypeHelloAlreadyConnected:
		e = &HelloAlreadyConnected{}
	case TypeBye:
		e = &Bye{}
	case TypeByeTimeout:
		e = &ByeTimeout{}
	case TypeState:
		e = &State{}
	case TypeAction:
		e = &Action{}
	case TypeGetState:
		e = &GetState{}
	case TypeGetConfig:
		e = &GetConfig{}
	case TypePutConfig:
		e = &PutConfig{}
	case TypeUpdateConfig:
		e = &UpdateConfig{}
	case TypeGetLog:
		e = &GetLog{}
	case TypeLog:
		e = &Log{}
	case TypeGetSecrets:
		e = &GetSecrets{}
	case TypePutSecrets:
		e = &PutSecrets{}
	case TypeGetCert:
		e = &GetCert{}
	case TypePutCert:
		e = &PutCert{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	e.Head().Type = t
	return e, nil
}

// Make returns a routed event of type t with no payload. It panics on an
// unknown type.
func Make(t Type, src, dst string) Event {
	e, err := New(t)
	if err != nil {
		panic(err)
	}
	h := e.Head()
	h.Src, h.Dst = src, dst
	return e
}

// NewState builds a state event for eid. The value is JSON-encoded.
func NewState(src, dst, eid string, value any, at time.Time) (*State, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding state %s: %w", eid, err)
	}
	return &State{
		Header:    Header{Type: TypeState, Src: src, Dst: dst},
		EID:       eid,
		Value:     raw,
		Timestamp: Timestamp(at),
	}, nil
}

// Timestamp converts t to fractional Unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Time converts fractional Unix seconds back to a time.
func Time(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}
