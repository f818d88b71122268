package gallery

import (
	"context"
	"fmt"

	"github.com/aweris/gallery/internal/remote"
)

// RemoteStore is the storage contract the gallery consumes.
// Re-exported from internal/remote for convenience.
type RemoteStore = remote.Store

// Metadata describes a stored blob.
type Metadata = remote.Metadata

// PutRequest carries the metadata supplied with a new blob.
type PutRequest = remote.PutRequest

// Authenticator provides credentials for registry-backed stores.
type Authenticator = remote.Authenticator

// Discover adapts svc to the storage contract. Capabilities svc lacks
// surface as ErrServiceNotDeployed when they are invoked, so a connected
// service that never deployed the contract is distinguishable from one
// that is merely unreachable.
func Discover(svc any) RemoteStore {
	if s, ok := svc.(RemoteStore); ok {
		return s
	}
	return &discovered{svc: svc}
}

type discovered struct {
	svc any
}

func (d *discovered) List(ctx context.Context) ([]Metadata, error) {
	l, ok := d.svc.(remote.Lister)
	if !ok {
		return nil, d.missing("list")
	}
	return l.List(ctx)
}

func (d *discovered) Get(ctx context.Context, id string) ([]byte, error) {
	g, ok := d.svc.(remote.Getter)
	if !ok {
		return nil, d.missing("get")
	}
	return g.Get(ctx, id)
}

func (d *discovered) Put(ctx context.Context, data []byte, req PutRequest) (string, error) {
	p, ok := d.svc.(remote.Putter)
	if !ok {
		return "", d.missing("put")
	}
	return p.Put(ctx, data, req)
}

func (d *discovered) Delete(ctx context.Context, id string) (bool, error) {
	del, ok := d.svc.(remote.Deleter)
	if !ok {
		return false, d.missing("delete")
	}
	return del.Delete(ctx, id)
}

func (d *discovered) Close() error {
	if c, ok := d.svc.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (d *discovered) missing(op string) error {
	return fmt.Errorf("%s capability missing on %T: %w", op, d.svc, ErrServiceNotDeployed)
}

// Dial connects to the store at rawURL. Supported schemes are listed in
// remote.Schemes; a bare path opens a local directory store.
func Dial(ctx context.Context, rawURL string, opts ...Option) (RemoteStore, error) {
	options := newOptions(opts)
	return remote.Open(ctx, rawURL, remote.OpenOptions{
		Concurrency: options.Concurrency,
		Auth:        options.Auth,
		Logger:      options.Logger,
	})
}
