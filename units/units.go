// Package units holds the independently retryable operations the workflow
// engine schedules. Each unit is a pure function of its payload plus external
// state (catalog rows, object store blobs, artifacts) and tolerates
// at-least-once execution.
package units

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Lane routes a unit onto one of the two worker queues. IO-bound units share
// a wide pool; raster math shares a narrow one sized to the CPU count.
type Lane string

const (
	LaneIO  Lane = "io_tasks"
	LaneCPU Lane = "cpu_tasks"
)

// RetryPolicy bounds how a worker retries a unit on transient failure.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      bool
}

// Backoff returns the delay before the given retry attempt (1-based),
// doubling from BaseBackoff and capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// UnitOfWork is one schedulable operation. Execute takes the JSON payload the
// composer serialized and returns a JSON-serializable result.
type UnitOfWork interface {
	Name() string
	Lane() Lane
	RetryPolicy() RetryPolicy
	Execute(ctx context.Context, payload []byte) (any, error)
}

// ErrNotBackedUp means a capture reached a processing unit before its backup
// unit marked it safe to read from the destination bucket.
var ErrNotBackedUp = errors.New("capture is not backed up")

// ErrUnknownUnit is returned by Registry.Get for names no unit registered.
var ErrUnknownUnit = errors.New("unknown unit")

// fatalError marks failures no amount of retrying can fix, such as a missing
// catalog row or a band absent from a stack.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the worker fails the task immediately instead of
// retrying it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (anywhere in its chain) was marked Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Registry maps unit names to implementations. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	units map[string]UnitOfWork
}

func NewRegistry() *Registry {
	return &Registry{units: make(map[string]UnitOfWork)}
}

func (r *Registry) Register(u UnitOfWork) {
	if _, ok := r.units[u.Name()]; ok {
		panic(fmt.Sprintf("unit %q registered twice", u.Name()))
	}
	r.units[u.Name()] = u
}

func (r *Registry) Get(name string) (UnitOfWork, error) {
	u, ok := r.units[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownUnit)
	}
	return u, nil
}

// DefaultBands is the band set the pipeline processes when a request does not
// name one: blue, green, red and near-infrared.
var DefaultBands = []string{"B02", "B03", "B04", "B08"}

// Unit names, also the task_name stored on execution rows.
const (
	NameDiscover      = "discover"
	NameBackup        = "backup"
	NameDownloadBands = "download_bands"
	NameStackAndCrop  = "stack_and_crop"
	NameComputeNDVI   = "compute_ndvi"
	NameGenerateRGB   = "generate_rgb"
	NameTemporal      = "temporal_analysis"
)
