package domain

import "context"

// Slot is a named blob store. The whole conversation collection lives in one
// slot and is read and written as a unit.
type Slot interface {
	// Read returns nil, nil when the key has never been written.
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}
