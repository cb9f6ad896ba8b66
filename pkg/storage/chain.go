package storage

import (
	"context"
	"errors"
	"strings"
)

// Chain layers KV backends from fastest to slowest (e.g. memory in front of sqlite).
// Reads fall through until a hit and copy the value into the faster layers; writes
// and deletes go to every layer.
type Chain struct {
	layers []KV
}

// NewChain creates a chain. At least one layer is required.
func NewChain(layers ...KV) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("storage: chain needs at least one layer")
	}
	return &Chain{layers: layers}, nil
}

// Get traverses layers in order until a hit, then warms the layers above it.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			// Not found and unavailable layers are both skipped.
			lastErr = err
			continue
		}

		for j := i - 1; j >= 0; j-- {
			_ = c.layers[j].Set(ctx, key, value)
		}
		return value, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrKeyNotFound
}

// Set writes to all layers, slowest first, so a crash between writes never leaves
// a fast layer ahead of the durable one.
func (c *Chain) Set(ctx context.Context, key string, value []byte) error {
	var errs []error
	for i := len(c.layers) - 1; i >= 0; i-- {
		if err := c.layers[i].Set(ctx, key, value); err != nil {
			errs = append(errs, WrapError(err, c.layers[i].Name(), "set"))
		}
	}
	return errors.Join(errs...)
}

// Delete removes key from all layers.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Delete(ctx, key); err != nil {
			errs = append(errs, WrapError(err, layer.Name(), "delete"))
		}
	}
	return errors.Join(errs...)
}

// Name returns "chain(a>b>c)".
func (c *Chain) Name() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return "chain(" + strings.Join(names, ">") + ")"
}

// Close closes all layers and joins their errors.
func (c *Chain) Close() error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}
