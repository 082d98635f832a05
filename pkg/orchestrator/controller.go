package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
	"github.com/polisai/crdp-orchestrator/pkg/request"
	"github.com/polisai/crdp-orchestrator/pkg/sessionlog"
	"github.com/polisai/crdp-orchestrator/pkg/telemetry"
)

// LocalFailureStatus is the status code shown for inputs and settings rejected before
// any gateway call.
const LocalFailureStatus = http.StatusUnprocessableEntity

// Options holds the dependencies of a Controller.
type Options struct {
	Gateway  Gateway
	Settings SettingsSource
	// Log defaults to a fresh session log.
	Log    *sessionlog.Log
	Logger *slog.Logger
	// Defaults seeds the inputs and is restored by Reset.
	Defaults Inputs
}

// Controller runs the five operation slots of one session.
type Controller struct {
	gateway  Gateway
	settings SettingsSource
	log      *sessionlog.Log
	logger   *slog.Logger
	tracer   trace.Tracer
	defaults Inputs

	mu     sync.Mutex
	inputs Inputs
	slots  map[Slot]*slotState

	inflight sync.WaitGroup
}

// New creates a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Gateway == nil {
		return nil, errors.New("orchestrator: gateway is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("orchestrator: settings source is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := opts.Log
	if log == nil {
		log = sessionlog.New()
	}

	slots := make(map[Slot]*slotState, len(Slots()))
	for _, slot := range Slots() {
		slots[slot] = &slotState{}
	}

	return &Controller{
		gateway:  opts.Gateway,
		settings: opts.Settings,
		log:      log,
		logger:   logger,
		tracer:   otel.Tracer("github.com/polisai/crdp-orchestrator/pkg/orchestrator"),
		defaults: opts.Defaults,
		inputs:   opts.Defaults,
		slots:    slots,
	}, nil
}

// Log returns the session log.
func (c *Controller) Log() *sessionlog.Log {
	return c.log
}

// Inputs returns a copy of the current inputs.
func (c *Controller) Inputs() Inputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs
}

// SetProtectInput sets the value submitted by the protect slot.
func (c *Controller) SetProtectInput(v string) { c.setInput(func(in *Inputs) { in.Protect = v }) }

// SetRevealInput sets the token submitted by the reveal slot.
func (c *Controller) SetRevealInput(v string) { c.setInput(func(in *Inputs) { in.Reveal = v }) }

// SetRevealUsername sets the optional username sent with reveal requests.
func (c *Controller) SetRevealUsername(v string) {
	c.setInput(func(in *Inputs) { in.RevealUsername = v })
}

// SetBulkProtectInput sets the multi-line block submitted by the bulk protect slot.
func (c *Controller) SetBulkProtectInput(v string) {
	c.setInput(func(in *Inputs) { in.BulkProtect = v })
}

// SetBulkRevealInput sets the multi-line block submitted by the bulk reveal slot.
func (c *Controller) SetBulkRevealInput(v string) {
	c.setInput(func(in *Inputs) { in.BulkReveal = v })
}

func (c *Controller) setInput(fn func(*Inputs)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.inputs)
}

// State returns a copy of the slot's observable state.
func (c *Controller) State(slot Slot) SlotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.slots[slot]
	if !ok {
		return SlotState{}
	}
	return st.snapshot()
}

// CanTrigger reports whether the slot's trigger is enabled: the slot is idle and, for
// bulk slots, the input yields at least one line.
func (c *Controller) CanTrigger(slot Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.slots[slot]
	if !ok || st.phase != PhaseIdle {
		return false
	}
	switch slot {
	case SlotBulkProtect:
		return bulkProtectOp.requires(c.inputs)
	case SlotBulkReveal:
		return bulkRevealOp.requires(c.inputs)
	default:
		return true
	}
}

// Trigger starts an invocation of slot. Validation and request building happen before
// Trigger returns; the gateway call runs on its own goroutine and the returned channel
// is closed once the slot is back to idle. It fails with domain.ErrSlotBusy while the
// slot is in flight and with domain.ErrNothingToSubmit when a bulk input is blank.
func (c *Controller) Trigger(ctx context.Context, slot Slot) (<-chan struct{}, error) {
	switch slot {
	case SlotProtect:
		return trigger(ctx, c, protectOp)
	case SlotReveal:
		return trigger(ctx, c, revealOp)
	case SlotBulkProtect:
		return trigger(ctx, c, bulkProtectOp)
	case SlotBulkReveal:
		return trigger(ctx, c, bulkRevealOp)
	case SlotHealth:
		return trigger(ctx, c, healthOp)
	default:
		return nil, fmt.Errorf("unknown slot %q", slot)
	}
}

// Run triggers slot and waits for it to settle, returning the resulting state.
func (c *Controller) Run(ctx context.Context, slot Slot) (SlotState, error) {
	done, err := c.Trigger(ctx, slot)
	if err != nil {
		return c.State(slot), err
	}
	select {
	case <-done:
		return c.State(slot), nil
	case <-ctx.Done():
		// The call keeps running; only the wait is abandoned.
		return c.State(slot), ctx.Err()
	}
}

// Wait blocks until every in-flight invocation has settled.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Reset restores the default inputs and clears every displayed result and the session
// log. In-flight invocations are not cancelled and still publish their outcome.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.inputs = c.defaults
	for _, st := range c.slots {
		st.result = nil
		st.health = nil
	}
	c.mu.Unlock()

	c.log.Clear()
	c.logger.Info("session reset")
}

// trigger is the shared validate, build, call, log and publish sequence.
func trigger[Req, Resp any](ctx context.Context, c *Controller, d descriptor[Req, Resp]) (<-chan struct{}, error) {
	c.mu.Lock()
	st := c.slots[d.slot]
	if st.phase != PhaseIdle {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", d.slot, domain.ErrSlotBusy)
	}
	if d.requires != nil && !d.requires(c.inputs) {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", d.slot, domain.ErrNothingToSubmit)
	}
	st.phase = PhaseValidating
	st.result = nil
	st.health = nil
	inputs := c.inputs
	c.mu.Unlock()

	if d.clearsLog {
		c.log.Clear()
	}

	// Callers' cancellation must not abort a request once it is sent.
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "orchestrator."+string(d.slot))
	span.SetAttributes(attribute.String("crdp.operation", string(d.stage)))

	done := make(chan struct{})
	started := time.Now()

	req, err := buildRequest(c.settings, d, inputs)
	if err != nil {
		resp := d.reject(err)
		publish(c, d, resp, false)
		kind := domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		telemetry.RecordOperationEvent(span, string(d.stage), telemetry.OutcomeRejected, LocalFailureStatus, 0)
		telemetry.RecordOperationMetrics(ctx, telemetry.OperationMetrics{
			Operation:  string(d.stage),
			Outcome:    telemetry.OutcomeRejected,
			ErrorKind:  string(kind),
			StatusCode: LocalFailureStatus,
		})
		span.End()
		c.logger.Info("operation rejected", "slot", d.slot, "kind", kind, "error", err)
		close(done)
		return done, nil
	}

	subject, items := d.describe(req)
	if subject != "" {
		span.SetAttributes(attribute.String("crdp.subject", subject))
	}

	c.mu.Lock()
	st.phase = PhaseInFlight
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer close(done)
		defer span.End()

		resp := d.call(ctx, c.gateway, req)
		o := d.report(resp)

		rec := sessionlog.Record{Stage: d.stage, Request: req, Debug: o.debug}
		if o.failed && o.err != nil {
			rec.Err = o.err
		} else {
			rec.Response = resp
		}
		c.log.Append(rec)

		publish(c, d, resp, !o.failed)

		result := telemetry.OutcomeSuccess
		if o.failed {
			result = telemetry.OutcomeFailure
			span.SetStatus(codes.Error, "operation failed")
			if o.err != nil {
				span.RecordError(o.err)
			}
		}
		telemetry.RecordOperationEvent(span, string(d.stage), result, o.status, items)
		telemetry.RecordOperationMetrics(ctx, telemetry.OperationMetrics{
			Operation:  string(d.stage),
			Outcome:    result,
			ErrorKind:  string(domain.KindOf(o.err)),
			StatusCode: o.status,
			Items:      items,
			Duration:   time.Since(started),
		})

		c.logger.Debug("operation settled",
			"slot", d.slot,
			"outcome", result,
			"status_code", o.status,
			"items", items,
			"subject", subject,
		)
	}()

	return done, nil
}

// buildRequest reads the settings current at this moment and builds the request.
func buildRequest[Req, Resp any](settings SettingsSource, d descriptor[Req, Resp], inputs Inputs) (Req, error) {
	var zero Req
	if d.validate != nil {
		if err := d.validate(inputs); err != nil {
			return zero, err
		}
	}
	cfg, err := request.ParseConfiguration(settings.Current())
	if err != nil {
		return zero, err
	}
	return d.build(inputs, cfg)
}

// publish stores resp on the slot, returns it to idle and applies chaining on success.
func publish[Req, Resp any](c *Controller, d descriptor[Req, Resp], resp Resp, succeeded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.slots[d.slot]
	d.store(st, resp)
	st.phase = PhaseIdle
	if succeeded && d.chain != nil {
		d.chain(&c.inputs, resp)
	}
}
