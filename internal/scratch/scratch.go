// Package scratch stages video bytes in a remote object store between upload
// and redelivery. Objects are transient: they are removed once delivered or
// when their session is cancelled.
package scratch

import (
	"context"
	"errors"
	"fmt"

	"github.com/wapuda/vidrelay/internal/config"
)

// ErrTransfer is the single failure kind surfaced by every backend.
var ErrTransfer = errors.New("scratch transfer failed")

type Store interface {
	// Put uploads data under a display name and returns the object id.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Get reads the whole object into memory.
	Get(ctx context.Context, id string) ([]byte, error)
	// Delete is best effort; false means the object may still exist.
	Delete(ctx context.Context, id string) bool
}

func transferErr(op, target string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrTransfer, op, target, err)
}

// Open builds the backend selected by SCRATCH_BACKEND.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.ScratchBackend {
	case config.BackendDrive:
		return NewDrive(ctx, cfg.Drive)
	case config.BackendS3:
		return NewS3(ctx, cfg.S3)
	case config.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown scratch backend %q", cfg.ScratchBackend)
	}
}
