package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AltairaLabs/robolive/events"
	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/protocol"
)

// DefaultTimeout bounds a single handler run.
const DefaultTimeout = 30 * time.Second

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Registry  *Registry
	Responder Responder
	// Timeout bounds each handler. Defaults to DefaultTimeout.
	Timeout time.Duration
	Emitter *events.Emitter
	// Tracer records a span per call. Optional.
	Tracer trace.Tracer
}

type pendingCall struct {
	inv     Invocation
	started time.Time
	cancel  context.CancelFunc
}

// Dispatcher runs tool calls asynchronously and answers each call id
// exactly once, with the handler's result or with an ErrorResult.
type Dispatcher struct {
	cfg DispatcherConfig

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("robolive/tools")
	}
	return &Dispatcher{
		cfg:     cfg,
		pending: make(map[string]*pendingCall),
	}
}

// DispatchCalls dispatches every function call of a tool-use frame.
func (d *Dispatcher) DispatchCalls(ctx context.Context, calls []protocol.FunctionCall) {
	for _, call := range calls {
		d.Dispatch(ctx, Invocation{ID: call.ID, Name: call.Name, Args: call.Args})
	}
}

// Dispatch starts inv in the background and returns immediately. It returns
// false when the call was not accepted: a duplicate of a pending id, a call
// without an id, or a call after Close.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) bool {
	if inv.ID == "" {
		logger.WarnContext(ctx, "tool call without id ignored", "tool", inv.Name)
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.WarnContext(ctx, "tool call after session end ignored", "tool", inv.Name, "id", inv.ID)
		d.cfg.Emitter.ToolCallAbandoned(inv.ID, inv.Name)
		return false
	}
	if _, dup := d.pending[inv.ID]; dup {
		d.mu.Unlock()
		logger.WarnContext(ctx, "duplicate tool call id ignored", "tool", inv.Name, "id", inv.ID)
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	call := &pendingCall{inv: inv, started: time.Now(), cancel: cancel}
	d.pending[inv.ID] = call
	d.wg.Add(1)
	d.mu.Unlock()

	d.cfg.Emitter.ToolCallStarted(inv.ID, inv.Name)
	go d.run(callCtx, call)
	return true
}

func (d *Dispatcher) run(ctx context.Context, call *pendingCall) {
	defer d.wg.Done()
	defer call.cancel()

	inv := call.inv
	ctx = logger.WithToolCallID(ctx, inv.ID)
	ctx, span := d.cfg.Tracer.Start(ctx, "tool.call", trace.WithAttributes(
		attribute.String("tool.name", inv.Name),
		attribute.String("tool.call_id", inv.ID),
	))
	defer span.End()

	result, err := d.execute(ctx, inv)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result = ErrorResult{Error: err.Error()}
	}

	if !d.resolve(inv.ID) {
		// Close already abandoned this call.
		return
	}

	duration := time.Since(call.started)
	if sendErr := d.cfg.Responder.SendToolResponse(ctx, inv.ID, inv.Name, result); sendErr != nil {
		logger.WarnContext(ctx, "tool response not sent", "tool", inv.Name, "error", sendErr)
		d.cfg.Emitter.ToolCallAbandoned(inv.ID, inv.Name)
		return
	}

	logger.ToolInvocation(ctx, inv.Name, inv.ID, err, "duration_ms", duration.Milliseconds())
	if err != nil {
		d.cfg.Emitter.ToolCallFailed(inv.ID, inv.Name, err, duration)
	} else {
		d.cfg.Emitter.ToolCallCompleted(inv.ID, inv.Name, duration)
	}
}

// execute validates and runs the handler, converting panics and timeouts
// into tool handler errors.
func (d *Dispatcher) execute(ctx context.Context, inv Invocation) (any, error) {
	decl, handler, err := d.cfg.Registry.Lookup(inv.Name)
	if err != nil {
		return nil, liveerr.ToolHandler("unknown tool", err)
	}
	if err := d.cfg.Registry.Validator().ValidateArgs(decl, inv.Args); err != nil {
		return nil, liveerr.ToolHandler("invalid arguments", err)
	}

	// Close may have canceled the call before it got here.
	if err := ctx.Err(); err != nil {
		return nil, liveerr.ToolHandler("handler canceled", err)
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := handler.Handle(ctx, inv)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, liveerr.ToolHandler("handler failed", o.err)
		}
		return o.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, liveerr.ToolHandler("handler failed", ErrToolTimeout)
		}
		return nil, liveerr.ToolHandler("handler canceled", ctx.Err())
	}
}

// resolve removes id from the pending set, reporting whether it was there.
func (d *Dispatcher) resolve(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; !ok {
		return false
	}
	delete(d.pending, id)
	return true
}

// Pending returns the number of calls awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close abandons every pending call and rejects new ones. Abandoned calls
// are logged, reported as events and returned; their handlers are canceled
// and no response is sent for them.
func (d *Dispatcher) Close() []Invocation {
	d.mu.Lock()
	d.closed = true
	abandoned := make([]Invocation, 0, len(d.pending))
	for id, call := range d.pending {
		call.cancel()
		abandoned = append(abandoned, call.inv)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	for _, inv := range abandoned {
		logger.Warn("tool call abandoned", "tool", inv.Name, "id", inv.ID)
		d.cfg.Emitter.ToolCallAbandoned(inv.ID, inv.Name)
	}
	return abandoned
}

// Wait blocks until every started call has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
