// Package blobstore provides the content-addressable stores snapshots are
// published to. An address is derived from the stored bytes by the store.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/chatvault/internal/config"
)

var (
	// ErrNotFound is returned when no object exists at an address, or the
	// address cannot name an object in this store.
	ErrNotFound = errors.New("object not found")
	// ErrCorrupt is returned when stored bytes no longer match their address.
	ErrCorrupt = errors.New("object corrupt")
)

// Store is a content-addressable blob store.
type Store interface {
	Put(ctx context.Context, payload []byte) (string, error)
	Get(ctx context.Context, address string) ([]byte, error)
}

var (
	_ Store = (*IPFSStore)(nil)
	_ Store = (*LocalStore)(nil)
)

// New creates the Store selected by STORE_BACKEND.
func New(cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreIPFS:
		return NewIPFSStore(cfg.IPFSAPIURL, cfg.StoreTimeout), nil
	case config.StoreLocal:
		return NewLocalStore(cfg.BlobDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
