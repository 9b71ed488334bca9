//go:build !manifold

// Package manifold binds the geometry kernel to the Manifold library. Without
// the "manifold" build tag this stub is compiled instead and New reports the
// backend as unavailable.
package manifold

import (
	"errors"

	"github.com/chazu/wafer/pkg/kernel"
)

// ErrUnavailable is returned by New when built without -tags=manifold.
var ErrUnavailable = errors.New("manifold kernel not available: build with -tags=manifold")

// New returns ErrUnavailable.
func New() (kernel.Kernel, error) {
	return nil, ErrUnavailable
}
