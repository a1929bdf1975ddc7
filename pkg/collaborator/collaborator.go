// Package collaborator runs calls to external services (document store, object store, feed,
// auth, mail) under a per-call timeout, retries connectivity failures with exponential backoff
// and converts every failure into a typed application error.
package collaborator

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/enrollease/enrollease-api/pkg/errors"
	"github.com/enrollease/enrollease-api/pkg/middleware/requestid"
	"github.com/enrollease/enrollease-api/pkg/storage"
)

// Collaborator names used in logs and metrics.
const (
	DocumentStore = "document_store"
	ObjectStore   = "object_store"
	Feed          = "feed"
	Auth          = "auth"
	Mail          = "mail"
	Cache         = "cache"
)

// Outcome labels recorded per call.
const (
	OutcomeOK           = "ok"
	OutcomeUnavailable  = "unavailable"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

// ErrConnectivity may be wrapped by adapters to flag a failure as transient.
var ErrConnectivity = errors.New("collaborator unreachable")

// Observer receives one observation per logical call (after retries).
type Observer interface {
	ObserveCollaboratorCall(collaborator, operation, outcome string, duration time.Duration)
}

// Options configures a Caller.
type Options struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Observer        Observer
	Logger          *zap.Logger
}

// Caller executes collaborator calls.
type Caller struct {
	opts   Options
	logger *zap.Logger
}

// NewCaller applies defaults to opts.
func NewCaller(opts Options) *Caller {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{opts: opts, logger: logger}
}

// Do runs fn, giving each attempt its own timeout derived from ctx.
func (c *Caller) Do(ctx context.Context, collaborator, operation string, fn func(context.Context) error) error {
	started := time.Now()
	attempt := 0

	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && IsConnectivity(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialInterval
	policy.MaxInterval = c.opts.MaxInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		c.logger.Warn("collaborator call failed, retrying",
			zap.String("collaborator", collaborator),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err),
		)
	})

	converted, outcome := Convert(collaborator, err)
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveCollaboratorCall(collaborator, operation, outcome, time.Since(started))
	}
	if converted != nil && outcome == OutcomeUnavailable {
		c.logger.Error("collaborator unavailable",
			zap.String("collaborator", collaborator),
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err),
		)
	}
	return converted
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, c *Caller, collaborator, operation string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, collaborator, operation, func(callCtx context.Context) error {
		v, err := fn(callCtx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Convert maps a raw collaborator error onto the error taxonomy and returns the outcome label.
// Typed application errors pass through unchanged.
func Convert(collaborator string, err error) (error, string) {
	if err == nil {
		return nil, OutcomeOK
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		if appErr.Code == appErrors.ErrNotFound.Code {
			return err, OutcomeNotFound
		}
		return err, OutcomeError
	}
	switch {
	case IsConnectivity(err), errors.Is(err, context.Canceled):
		unavailable := appErrors.Clone(appErrors.ErrUnavailable, "")
		unavailable.Err = err
		return unavailable, OutcomeUnavailable
	case IsUnauthorized(err):
		msg := appErrors.ErrStorageUnauthorized.Message
		if collaborator != ObjectStore {
			msg = "access denied by " + collaborator + ", please contact support"
		}
		return appErrors.Wrap(err, appErrors.ErrStorageUnauthorized.Code, appErrors.ErrStorageUnauthorized.Status, msg), OutcomeUnauthorized
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, storage.ErrObjectNotFound):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, appErrors.ErrNotFound.Message), OutcomeNotFound
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reach "+collaborator), OutcomeError
	}
}

// IsConnectivity reports whether err is a transient network or availability failure.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectivity) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := pqErr.Code.Class()
		return class == "08" || class == "53" || class == "57"
	}
	return false
}

// IsUnauthorized reports whether the collaborator refused the call on permission grounds.
func IsUnauthorized(err error) bool {
	if errors.Is(err, storage.ErrPermissionDenied) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42501" || pqErr.Code.Class() == "28"
	}
	return false
}
