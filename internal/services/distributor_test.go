package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/bus/bustest"
	"github.com/alfredjeanlab/leafbus/internal/store"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

type fakeProvider struct {
	calls []string
	err   error
}

func (p *fakeProvider) Get(_ context.Context, tree string) (Bundle, error) {
	p.calls = append(p.calls, tree)
	if p.err != nil {
		return Bundle{}, p.err
	}
	return Bundle{Data: map[string]any{"tree": tree}, Version: "v-" + tree}, nil
}

func (p *fakeProvider) Version(_ context.Context, tree string) (string, error) {
	return "v-" + tree, nil
}

func TestSecrets_RepliesToGateway(t *testing.T) {
	b := bus.New(addr.Earth)
	p := &fakeProvider{}
	b.Subscribe(NewSecrets(b, p, nil))
	rec := bustest.NewRecorder()
	b.Subscribe(rec)

	b.Post(context.Background(), wire.Make(wire.TypeGetSecrets, "oak:gw", addr.Server))

	replies := rec.OfType(wire.TypePutSecrets)
	if len(replies) != 1 {
		t.Fatalf("got %d put_secrets, want 1", len(replies))
	}
	r := replies[0].(*wire.PutSecrets)
	if r.Dst != "oak:gw" || r.Src != addr.Earth {
		t.Errorf("routing = %s -> %s", r.Src, r.Dst)
	}
	var data map[string]any
	if err := json.Unmarshal(r.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["version"] != "v-oak" || data["tree"] != "oak" {
		t.Errorf("data = %v", data)
	}
	if len(p.calls) != 1 || p.calls[0] != "oak" {
		t.Errorf("provider calls = %v", p.calls)
	}
}

func TestCertificates_RepliesWithPutCert(t *testing.T) {
	b := bus.New(addr.Earth)
	b.Subscribe(NewCertificates(b, &fakeProvider{}, nil))
	rec := bustest.NewRecorder()
	b.Subscribe(rec)

	b.Post(context.Background(), wire.Make(wire.TypeGetCert, "oak", addr.Server))
	b.Post(context.Background(), wire.Make(wire.TypeGetSecrets, "oak", addr.Server))

	if n := len(rec.OfType(wire.TypePutCert)); n != 1 {
		t.Errorf("got %d put_cert, want 1", n)
	}
	if n := len(rec.OfType(wire.TypePutSecrets)); n != 0 {
		t.Errorf("certificate distributor answered get_secrets")
	}
}

func TestDistributor_RejectsClients(t *testing.T) {
	b := bus.New(addr.Earth)
	p := &fakeProvider{}
	d := NewSecrets(b, p, nil)
	rec := bustest.NewRecorder()
	b.Subscribe(rec)

	for _, src := range []string{"@5", "", "#clients"} {
		_ = d.Receive(context.Background(), wire.Make(wire.TypeGetSecrets, src, addr.Server))
	}
	if len(p.calls) != 0 || len(rec.Events()) != 0 {
		t.Errorf("non-gateway requests were answered: calls=%v events=%d", p.calls, len(rec.Events()))
	}
}

func TestDistributor_ProviderError(t *testing.T) {
	b := bus.New(addr.Earth)
	d := NewSecrets(b, &fakeProvider{err: store.ErrNotFound}, nil)
	err := d.Receive(context.Background(), wire.Make(wire.TypeGetSecrets, "ghost", addr.Server))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

type fakeTrees map[string]*store.Tree

func (f fakeTrees) GetTree(_ context.Context, id string) (*store.Tree, error) {
	t, ok := f[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

type fakeTokens struct{}

func (fakeTokens) GatewayToken(t *store.Tree) (string, error) { return "tok-" + t.UUID, nil }

func TestTreeSecrets(t *testing.T) {
	tree := &store.Tree{
		UUID:      "u-1",
		ID:        "oak",
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Branches:  []store.Branch{{ID: "gw", UpdatedAt: time.Date(2024, 2, 1, 8, 0, 0, 999, time.UTC)}},
	}
	s := &TreeSecrets{Trees: fakeTrees{"oak": tree}, Tokens: fakeTokens{}, Domain: "example.org"}

	b, err := s.Get(context.Background(), "oak")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Version != "2024-02-01T08:00:00" {
		t.Errorf("version = %q", b.Version)
	}
	if b.Data["domain"] != "oak.ws.example.org" || b.Data["gateway-token"] != "tok-u-1" {
		t.Errorf("data = %v", b.Data)
	}
	v, err := s.Version(context.Background(), "oak")
	if err != nil || v != b.Version {
		t.Errorf("Version() = %q, %v", v, err)
	}
	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown tree: got %v", err)
	}
}
