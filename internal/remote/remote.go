// Package remote implements the storage contract the gallery consumes and
// the adapters that speak it.
//
// Adapters:
// - OCIStore: one image tag per blob in an OCI registry
// - S3Store: one object per blob in an S3 bucket
// - RedisStore: payload keys plus a sorted index in Redis
// - LocalStore: sharded directory on the local filesystem
//
// Every adapter maps its failures onto the sentinels below so callers can
// tell a missing service from a transient failure.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrServiceNotDeployed reports that the service exists but does not
	// expose the storage contract (or the backing bucket/repository is gone).
	ErrServiceNotDeployed = errors.New("gallery: storage service not deployed")

	// ErrUnavailable reports a transport or service failure.
	ErrUnavailable = errors.New("gallery: storage service unavailable")

	// ErrNotFound reports that no blob exists for the requested id.
	ErrNotFound = errors.New("gallery: not found")
)

// Metadata describes a stored blob. ID is assigned by the store and never
// changes.
type Metadata struct {
	ID          string    `json:"id" msgpack:"id"`
	Filename    string    `json:"filename" msgpack:"filename"`
	ContentType string    `json:"contentType" msgpack:"contentType"`
	Size        int64     `json:"size" msgpack:"size"`
	UploadedAt  time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
}

// PutRequest carries the caller-supplied metadata for a new blob.
type PutRequest struct {
	Filename    string
	ContentType string
}

// Lister lists the metadata of every stored blob.
type Lister interface {
	List(ctx context.Context) ([]Metadata, error)
}

// Getter fetches the payload of a blob.
type Getter interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// Putter stores a new blob and returns its id.
type Putter interface {
	Put(ctx context.Context, data []byte, req PutRequest) (string, error)
}

// Deleter removes a blob. It returns false when the store declined.
type Deleter interface {
	Delete(ctx context.Context, id string) (bool, error)
}

// Store is the full storage contract.
type Store interface {
	Lister
	Getter
	Putter
	Deleter
}
