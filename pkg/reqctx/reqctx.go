// Package reqctx carries the ambient per-request state: recursion depth
// limits and subrequest budgets. The context is bound to a request's
// context.Context; engines read it back with From and enforce the budgets
// without the bindings threading it explicitly.
package reqctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
)

// Depth and budget limits of the platform.
const (
	// MaxRequestDepth bounds recursion through workers calling workers.
	MaxRequestDepth = 16

	// MaxPipelineDepth bounds service-binding pipelines within one request.
	MaxPipelineDepth = 32

	// DefaultBundledSubrequestLimit is the external subrequest cap under the
	// bundled usage model.
	DefaultBundledSubrequestLimit = 50

	// DefaultUnboundSubrequestLimit is the external subrequest cap under the
	// unbound usage model.
	DefaultUnboundSubrequestLimit = 1000

	// DefaultInternalSubrequestLimit caps internal (KV, durable object)
	// subrequests.
	DefaultInternalSubrequestLimit = 1000

	// Unlimited disables a subrequest cap.
	Unlimited = -1
)

// Environment overrides for the subrequest caps. Negative values disable the
// check entirely.
const (
	SubrequestLimitEnv         = "MINIFLARE_SUBREQUEST_LIMIT"
	InternalSubrequestLimitEnv = "MINIFLARE_INTERNAL_SUBREQUEST_LIMIT"
)

// Errors raised by the request context. The messages are part of the
// platform contract.
var (
	ErrDepthLimit = errors.New(
		"subrequest depth limit exceeded: this request recursed through workers too many times")
	ErrTooManySubrequests = errors.New("too many subrequests")
	ErrNotInRequest       = errors.New(
		"Some functionality, such as asynchronous I/O, timeouts, and generating random values, " +
			"can only be performed while handling a request")
)

// Options configures a new RequestContext.
type Options struct {
	// RequestDepth starts at 1 and increments on every recursive dispatch.
	// Zero means 1.
	RequestDepth int

	// PipelineDepth starts at 1 and resets for every new request. Zero
	// means 1.
	PipelineDepth int

	// DurableObject marks contexts created for durable-object invocations.
	DurableObject bool

	// Unbound selects the unbound usage model's default external cap.
	Unbound bool

	// ExternalLimit and InternalLimit override the subrequest caps.
	// Zero resolves the default for the usage model (including environment
	// overrides); Unlimited disables the check.
	ExternalLimit int
	InternalLimit int
}

// RequestContext is the ambient state of one request.
type RequestContext struct {
	requestDepth  int
	pipelineDepth int
	durableObject bool

	externalLimit int
	internalLimit int

	externalCount atomic.Int64
	internalCount atomic.Int64
}

// New validates the depth limits and builds a request context.
func New(opts Options) (*RequestContext, error) {
	if opts.RequestDepth == 0 {
		opts.RequestDepth = 1
	}
	if opts.PipelineDepth == 0 {
		opts.PipelineDepth = 1
	}
	if opts.RequestDepth < 1 || opts.RequestDepth > MaxRequestDepth {
		return nil, fmt.Errorf("%w (request depth %d, limit %d)", ErrDepthLimit, opts.RequestDepth, MaxRequestDepth)
	}
	if opts.PipelineDepth < 1 || opts.PipelineDepth > MaxPipelineDepth {
		return nil, fmt.Errorf("%w (pipeline depth %d, limit %d)", ErrDepthLimit, opts.PipelineDepth, MaxPipelineDepth)
	}
	if opts.ExternalLimit == 0 {
		opts.ExternalLimit = DefaultExternalLimit(opts.Unbound)
	}
	if opts.InternalLimit == 0 {
		opts.InternalLimit = DefaultInternalLimit()
	}
	return &RequestContext{
		requestDepth:  opts.RequestDepth,
		pipelineDepth: opts.PipelineDepth,
		durableObject: opts.DurableObject,
		externalLimit: opts.ExternalLimit,
		internalLimit: opts.InternalLimit,
	}, nil
}

// DefaultExternalLimit resolves the external subrequest cap for the usage
// model, honoring the environment override.
func DefaultExternalLimit(unbound bool) int {
	if limit, ok := envLimit(SubrequestLimitEnv); ok {
		return limit
	}
	if unbound {
		return DefaultUnboundSubrequestLimit
	}
	return DefaultBundledSubrequestLimit
}

// DefaultInternalLimit resolves the internal subrequest cap, honoring the
// environment override.
func DefaultInternalLimit() int {
	if limit, ok := envLimit(InternalSubrequestLimitEnv); ok {
		return limit
	}
	return DefaultInternalSubrequestLimit
}

func envLimit(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	if n < 0 {
		return Unlimited, true
	}
	return n, true
}

// RequestDepth returns the recursion depth, starting at 1.
func (rc *RequestContext) RequestDepth() int { return rc.requestDepth }

// PipelineDepth returns the pipeline depth, starting at 1.
func (rc *RequestContext) PipelineDepth() int { return rc.pipelineDepth }

// DurableObject reports whether this context belongs to a durable-object
// invocation.
func (rc *RequestContext) DurableObject() bool { return rc.durableObject }

// ExternalSubrequests returns the external counter.
func (rc *RequestContext) ExternalSubrequests() int { return int(rc.externalCount.Load()) }

// InternalSubrequests returns the internal counter.
func (rc *RequestContext) InternalSubrequests() int { return int(rc.internalCount.Load()) }

// ChildOptions derives the options for a recursive dispatch from this
// context: request depth increments, pipeline depth resets.
func (rc *RequestContext) ChildOptions() Options {
	return Options{
		RequestDepth:  rc.requestDepth + 1,
		PipelineDepth: 1,
		ExternalLimit: rc.externalLimit,
		InternalLimit: rc.internalLimit,
	}
}

// IncrementExternalSubrequests bumps the external counter by n (1 when n is
// 0) and fails once the cap is exceeded.
func (rc *RequestContext) IncrementExternalSubrequests(n int) error {
	if n == 0 {
		n = 1
	}
	count := rc.externalCount.Add(int64(n))
	if rc.externalLimit >= 0 && count > int64(rc.externalLimit) {
		return fmt.Errorf("%w (external limit %d)", ErrTooManySubrequests, rc.externalLimit)
	}
	return nil
}

// IncrementInternalSubrequests bumps the internal counter by n (1 when n is
// 0) and fails once the cap is exceeded.
func (rc *RequestContext) IncrementInternalSubrequests(n int) error {
	if n == 0 {
		n = 1
	}
	count := rc.internalCount.Add(int64(n))
	if rc.internalLimit >= 0 && count > int64(rc.internalLimit) {
		return fmt.Errorf("%w (internal limit %d)", ErrTooManySubrequests, rc.internalLimit)
	}
	return nil
}

type ctxKey struct{}

// With binds rc to ctx for the dynamic scope of a request.
func With(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// From returns the bound request context, or nil.
func From(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}

// AssertInRequest fails when no request context is bound.
func AssertInRequest(ctx context.Context) error {
	if From(ctx) == nil {
		return ErrNotInRequest
	}
	return nil
}
