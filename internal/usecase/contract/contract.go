// Package contract is the command and query surface of the scheduler core.
// Each call loads the committed state, mutates a draft, commits it as a whole
// and only then hands instructions to the host and publishes events.
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"croncat/internal/domain"
	"croncat/internal/infra/tracer"
	"croncat/internal/usecase/admission"
	"croncat/internal/usecase/settlement"
)

// ContractDeps holds injected dependencies for the contract.
type ContractDeps struct {
	Store   domain.StateStore
	Tasks   domain.TaskIndex
	Bank    domain.BankQuerier
	Sink    domain.InstructionSink // optional, nil = instructions only returned
	Bus     domain.EventBus        // optional, nil = no events
	Clock   domain.Clock           // optional, defaults to domain.SystemClock
	Address string                 // registry account on the host
	Logger  *slog.Logger
}

// Contract serializes every call behind one mutex, matching a host that runs
// one invocation to completion before the next.
type Contract struct {
	deps    ContractDeps
	builder *settlement.Builder
	entropy io.Reader
	mu      sync.Mutex
}

// New creates a contract with the given dependencies.
func New(deps ContractDeps) *Contract {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Contract{
		deps:    deps,
		builder: settlement.NewBuilder(deps.Bank, deps.Address),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Address returns the registry account on the host.
func (c *Contract) Address() string { return c.deps.Address }

// Response is the result of a successful command.
type Response struct {
	Method       string               `json:"method"`
	Attributes   []domain.Attribute   `json:"attributes"`
	Instructions []domain.Instruction `json:"instructions,omitempty"`
	BatchID      string               `json:"batch_id,omitempty"`
	Events       []domain.Event       `json:"events,omitempty"`
}

type pendingEvent struct {
	typ     domain.EventType
	payload any
}

// draft is the in-memory working copy of one call.
type draft struct {
	ctx    context.Context
	caller string
	now    time.Time
	state  *domain.State

	tasks      []domain.TaskChange
	baseTotal  *uint64
	taskReader domain.TaskIndex

	attrs        []domain.Attribute
	instructions []domain.Instruction
	events       []pendingEvent
}

func (d *draft) attr(key, value string) {
	d.attrs = append(d.attrs, domain.Attribute{Key: key, Value: value})
}

func (d *draft) emit(typ domain.EventType, payload any) {
	d.events = append(d.events, pendingEvent{typ: typ, payload: payload})
}

// totalTasks is the committed task total adjusted by this draft's changes.
func (d *draft) totalTasks() (uint64, error) {
	if d.baseTotal == nil {
		total, err := d.taskReader.Total(d.ctx)
		if err != nil {
			return 0, fmt.Errorf("task total: %w", err)
		}
		d.baseTotal = &total
	}
	total := *d.baseTotal
	for _, tc := range d.tasks {
		if tc.Remove {
			total--
		} else {
			total++
		}
	}
	return total, nil
}

// rollWindow re-evaluates the nomination window on the draft registry.
func (d *draft) rollWindow() error {
	total, err := d.totalTasks()
	if err != nil {
		return err
	}
	change, err := admission.RollWindow(&d.state.Registry, admission.ParamsFrom(d.state.Config, total), d.now)
	if err != nil {
		return err
	}
	switch change {
	case admission.WindowOpened:
		d.emit(domain.EventNominationOpened, map[string]any{"begin_time": d.now.Unix(), "total_tasks": total})
	case admission.WindowClosed:
		d.emit(domain.EventNominationClosed, map[string]any{"total_tasks": total})
	}
	return nil
}

type callFunc func(d *draft) error

// execute runs fn against a draft of the committed state. Nothing is written
// unless fn succeeds.
func (c *Contract) execute(ctx context.Context, method string, fn callFunc) (*Response, error) {
	return c.run(ctx, method, false, fn)
}

func (c *Contract) run(ctx context.Context, method string, genesis bool, fn callFunc) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	caller := domain.CallerFromContext(ctx)
	ctx, span := tracer.StartSpan(ctx, "contract."+method,
		trace.WithAttributes(tracer.StringAttr("contract.caller", caller)),
	)
	defer span.End()

	logger := c.deps.Logger.With("method", method, "caller", caller)

	d := &draft{ctx: ctx, caller: caller, now: c.now(ctx), taskReader: c.deps.Tasks}
	d.attr("method", method)

	committed, err := c.deps.Store.Load(ctx)
	switch {
	case genesis && err == nil:
		err = domain.NewDomainError("Contract."+method, domain.ErrInvalidConfiguration, "already instantiated")
	case genesis && errors.Is(err, domain.ErrGenesisMissing):
		err = nil
		d.state = &domain.State{Agents: make(map[string]domain.Agent)}
	case err == nil:
		d.state = committed.Clone()
	}
	if err == nil {
		err = fn(d)
	}
	if err != nil {
		tracer.RecordError(span, err)
		logger.Warn("contract call rejected", "error", err, "code", string(domain.ErrorCodeOf(err)))
		return nil, err
	}

	if err := c.deps.Store.Commit(ctx, d.state, d.tasks...); err != nil {
		tracer.RecordError(span, err)
		logger.Error("contract commit failed", "error", err)
		if errors.Is(err, domain.ErrStore) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}

	resp := &Response{Method: method, Attributes: d.attrs, Instructions: d.instructions}
	if len(d.instructions) > 0 {
		resp.BatchID = c.newID(d.now)
		c.dispatch(ctx, logger, d, resp)
	}
	for _, pe := range d.events {
		resp.Events = append(resp.Events, c.publish(ctx, d, pe))
	}

	span.SetAttributes(
		tracer.IntAttr("contract.instructions", len(resp.Instructions)),
		tracer.BoolAttr("contract.paused", d.state.Config.Paused),
	)
	tracer.SetOK(span)
	logger.Info("contract call committed", "instructions", len(resp.Instructions), "events", len(resp.Events))
	return resp, nil
}

// dispatch hands committed instructions to the host. A host failure cannot
// undo the commit; it is logged and surfaces as drift for the reconciler.
func (c *Contract) dispatch(ctx context.Context, logger *slog.Logger, d *draft, resp *Response) {
	if c.deps.Sink == nil {
		return
	}
	payload := map[string]any{"batch_id": resp.BatchID, "count": len(resp.Instructions), "ok": true}
	if err := c.deps.Sink.Execute(ctx, c.deps.Address, resp.BatchID, resp.Instructions); err != nil {
		logger.Error("host rejected instructions", "batch_id", resp.BatchID, "error", err)
		payload["ok"] = false
		payload["error"] = err.Error()
	}
	d.emit(domain.EventInstructionsExecuted, payload)
}

func (c *Contract) publish(ctx context.Context, d *draft, pe pendingEvent) domain.Event {
	var raw json.RawMessage
	if pe.payload != nil {
		if data, err := json.Marshal(pe.payload); err == nil {
			raw = data
		}
	}
	ev := domain.Event{
		ID:        c.newID(d.now),
		Type:      pe.typ,
		Timestamp: d.now,
		Caller:    d.caller,
		Payload:   raw,
	}
	if c.deps.Bus != nil {
		c.deps.Bus.Publish(ctx, ev)
	}
	return ev
}

// now returns the host block time pinned on ctx, or the clock.
func (c *Contract) now(ctx context.Context) time.Time {
	if t, ok := domain.BlockTimeFromContext(ctx); ok {
		return t.UTC().Truncate(time.Second)
	}
	return c.deps.Clock.Now()
}

// view runs a read-only query against the committed state.
func (c *Contract) view(ctx context.Context) (*domain.State, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.deps.Store.Load(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	return s, c.now(ctx), nil
}

// newID must be called with c.mu held.
func (c *Contract) newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), c.entropy).String()
}
