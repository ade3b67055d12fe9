// Package reconcile compares the registry's recorded ledger with the funds
// the host actually holds for the contract account.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"croncat/internal/domain"
	"croncat/internal/infra/tracer"
)

// Asset kinds in a Drift entry.
const (
	AssetNative = "native"
	AssetToken  = "token"
)

// Drift is one asset whose host balance does not cover the ledger.
type Drift struct {
	Kind   string `json:"kind"`
	Asset  string `json:"asset"`
	Ledger uint64 `json:"ledger"`
	Host   uint64 `json:"host"`
}

// Report is the outcome of a reconciliation run.
type Report struct {
	CheckedAt time.Time `json:"checked_at"`
	Checked   int       `json:"checked"`
	Drifts    []Drift   `json:"drifts,omitempty"`
}

// OK reports whether every checked asset was covered.
func (r Report) OK() bool { return len(r.Drifts) == 0 }

// ReconcilerDeps holds the dependencies of a Reconciler.
type ReconcilerDeps struct {
	Store   domain.StateStore
	Bank    domain.BankQuerier
	Bus     domain.EventBus // optional
	Clock   domain.Clock
	Address string
	Logger  *slog.Logger
}

// Reconciler detects drift between the ledger and host balances. The host
// may hold more than the ledger records (unrecorded deposits); only a
// shortfall is drift.
type Reconciler struct {
	deps ReconcilerDeps
}

// New creates a Reconciler.
func New(deps ReconcilerDeps) *Reconciler {
	if deps.Clock == nil {
		deps.Clock = domain.ClockFunc(time.Now)
	}
	return &Reconciler{deps: deps}
}

// Run performs one reconciliation pass. A missing genesis is not an error;
// there is nothing to reconcile yet.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.StartSpan(ctx, "reconcile.run")
	defer span.End()

	report := Report{CheckedAt: r.deps.Clock.Now().UTC()}

	st, err := r.deps.Store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrGenesisMissing) {
			return report, nil
		}
		tracer.RecordError(span, err)
		return report, domain.WrapOp("reconcile.Run", err)
	}

	host, err := r.deps.Bank.AllBalances(ctx, r.deps.Address)
	if err != nil {
		tracer.RecordError(span, err)
		return report, domain.WrapOp("reconcile.Run", err)
	}
	hostNative := domain.GenericBalance{Native: host}

	for _, denom := range nativeDenoms(st) {
		report.Checked++
		want := recorded(st.Ledger, func(b domain.GenericBalance) uint64 { return b.NativeAmount(denom) })
		have := hostNative.NativeAmount(denom)
		if have < want {
			report.Drifts = append(report.Drifts, Drift{Kind: AssetNative, Asset: denom, Ledger: want, Host: have})
		}
	}

	for _, token := range tokenAddresses(st) {
		report.Checked++
		want := recorded(st.Ledger, func(b domain.GenericBalance) uint64 { return b.TokenBalance(token) })
		have, err := r.deps.Bank.TokenBalance(ctx, token, r.deps.Address)
		if err != nil {
			tracer.RecordError(span, err)
			return report, domain.WrapOp("reconcile.Run", fmt.Errorf("token %s: %w", token, err))
		}
		if have < want {
			report.Drifts = append(report.Drifts, Drift{Kind: AssetToken, Asset: token, Ledger: want, Host: have})
		}
	}

	span.SetAttributes(tracer.IntAttr("reconcile.checked", report.Checked), tracer.IntAttr("reconcile.drifts", len(report.Drifts)))
	tracer.SetOK(span)

	if report.OK() {
		r.deps.Logger.Debug("ledger reconciled", "checked", report.Checked)
		return report, nil
	}

	for _, d := range report.Drifts {
		r.deps.Logger.Warn("ledger drift detected",
			"kind", d.Kind, "asset", d.Asset, "ledger", d.Ledger, "host", d.Host)
	}
	r.publish(ctx, report)
	return report, nil
}

func (r *Reconciler) publish(ctx context.Context, report Report) {
	if r.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		r.deps.Logger.Error("marshal drift report", "error", err)
		return
	}
	r.deps.Bus.Publish(ctx, domain.Event{
		ID:        ulid.Make().String(),
		Type:      domain.EventLedgerDrift,
		Timestamp: report.CheckedAt,
		Payload:   payload,
	})
}

// recorded sums an asset over the available and staked buckets. A sum that
// overflows saturates, which always shows up as drift.
func recorded(l domain.Ledger, amount func(domain.GenericBalance) uint64) uint64 {
	a, s := amount(l.Available), amount(l.Staked)
	if a+s < a {
		return ^uint64(0)
	}
	return a + s
}

func nativeDenoms(st *domain.State) []string {
	denoms := []string{st.Config.NativeDenom}
	for _, b := range []domain.GenericBalance{st.Ledger.Available, st.Ledger.Staked} {
		for _, c := range b.Native {
			denoms = append(denoms, c.Denom)
		}
	}
	slices.Sort(denoms)
	return slices.Compact(denoms)
}

func tokenAddresses(st *domain.State) []string {
	tokens := slices.Clone(st.Config.TokenWhitelist)
	for _, b := range []domain.GenericBalance{st.Ledger.Available, st.Ledger.Staked} {
		for _, t := range b.Tokens {
			tokens = append(tokens, t.Address)
		}
	}
	slices.Sort(tokens)
	return slices.Compact(tokens)
}
