package detection

import (
	"context"
	"sync"
)

// Camera is the device behind live frame capture.
type Camera interface {
	Open(ctx context.Context) error
	Close() error
}

// SimulatedCamera grants or denies access according to Permitted.
type SimulatedCamera struct {
	Permitted bool

	mu   sync.Mutex
	open bool
}

func (c *SimulatedCamera) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.Permitted {
		return ErrCameraPermissionDenied
	}
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	return nil
}

func (c *SimulatedCamera) Close() error {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	return nil
}

func (c *SimulatedCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
