package store

import (
	"context"
	"errors"
	"fmt"
)

// Well-known keys for the persisted datasets.
const (
	KeyIndexPlotData  = "bmpIndexComparisonPlotData"
	KeyBandPlotData   = "bmpThreshComparisonPlotData"
	KeyThresholdBands = "threshCompPercentilesAndPlotColors"
)

var ErrEmptyKey = errors.New("store: empty key")

// KV is the persisted state contract: one logical entry per key, each holding
// a JSON document that is loaded at startup and rewritten after every mutation.
// Get returns (nil, nil) when the key does not exist.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open returns the KV backend selected by driver: "postgres" (url), "sqlite"
// (path) or "memory".
func Open(ctx context.Context, driver, url, path string) (KV, error) {
	switch driver {
	case "postgres":
		if url == "" {
			return nil, errors.New("store: postgres driver requires database url")
		}
		return NewPostgresStore(ctx, url)
	case "sqlite":
		if path == "" {
			return nil, errors.New("store: sqlite driver requires database path")
		}
		return NewSQLiteStore(ctx, path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
