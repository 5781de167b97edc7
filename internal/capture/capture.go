// Package capture hands a capture device to one owner at a time. The
// device is opened on acquisition and closed on every exit path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrBusy         = errors.New("capture device is in use")
	ErrDeviceClosed = errors.New("capture device is not open")
)

// Device produces encoded image samples.
type Device interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// Exclusive serializes access to a Device.
type Exclusive struct {
	device Device
	slot   chan struct{}

	mu    sync.Mutex
	owner string
}

func NewExclusive(device Device) *Exclusive {
	return &Exclusive{device: device, slot: make(chan struct{}, 1)}
}

// With waits for the device, opens it for owner and runs fn. The device is
// closed and released when fn returns, fails, or panics.
func (e *Exclusive) With(ctx context.Context, owner string, fn func(ctx context.Context, dev Device) error) error {
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for capture device held by %q: %w", e.Owner(), ctx.Err())
	}
	return e.run(ctx, owner, fn)
}

// TryWith is With without waiting. It fails with ErrBusy when another owner
// holds the device.
func (e *Exclusive) TryWith(ctx context.Context, owner string, fn func(ctx context.Context, dev Device) error) error {
	select {
	case e.slot <- struct{}{}:
	default:
		return fmt.Errorf("%w by %q", ErrBusy, e.Owner())
	}
	return e.run(ctx, owner, fn)
}

func (e *Exclusive) run(ctx context.Context, owner string, fn func(ctx context.Context, dev Device) error) (err error) {
	e.setOwner(owner)
	defer func() {
		e.setOwner("")
		<-e.slot
	}()

	if err := e.device.Open(ctx); err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}
	defer func() {
		if cerr := e.device.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("owner", owner).Msg("Capture device close failed")
			if err == nil {
				err = cerr
			}
		}
	}()

	log.Debug().Str("owner", owner).Msg("Capture device acquired")
	return fn(ctx, e.device)
}

// Owner names the current holder, or "" when the device is free.
func (e *Exclusive) Owner() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

func (e *Exclusive) setOwner(owner string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.owner = owner
}

// FileDevice serves the contents of an image file as every capture.
type FileDevice struct {
	Path string

	mu   sync.Mutex
	open bool
}

func (d *FileDevice) Open(ctx context.Context) error {
	if _, err := os.Stat(d.Path); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

func (d *FileDevice) Capture(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	open := d.open
	d.mu.Unlock()
	if !open {
		return nil, ErrDeviceClosed
	}
	return os.ReadFile(d.Path)
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
