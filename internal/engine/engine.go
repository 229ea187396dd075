// Package engine runs the reconciliation loop that keeps bids consistent
// between an eBay listing and its Artifacte on-chain counterpart. The loop is
// level-triggered: each tick it compares freshly observed state on both sides
// and pushes the higher bid to the lagging one.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/HosicoStarChild/artifacte-seeker/internal/metrics"
	"github.com/HosicoStarChild/artifacte-seeker/internal/platform"
	"github.com/HosicoStarChild/artifacte-seeker/internal/registry"
	"github.com/HosicoStarChild/artifacte-seeker/internal/retry"
	"github.com/HosicoStarChild/artifacte-seeker/internal/risk"
)

const defaultInterval = 10 * time.Second

// Pass outcome labels, also written to the event trail.
const (
	ActionPushedToArtifacte = "pushed-to-artifacte"
	ActionPushedToEbay      = "pushed-to-ebay"
	ActionObserved          = "observed"
	ActionPushFailed        = "push-failed"
	ActionSignerRequired    = "signer-required"
	ActionBidCapExceeded    = "bid-cap-exceeded"
)

// Engine drives the loop and owns the only code path that mutates bid state.
type Engine struct {
	reg       *registry.Registry
	ebay      platform.BidSource
	artifacte platform.BidSource
	policy    retry.Policy
	limits    risk.Limits
	log       zerolog.Logger
	interval  time.Duration
	recorder  EventRecorder

	running atomic.Bool

	mu          sync.RWMutex
	lastOutcome map[string]SyncEvent
}

// Option configures Engine construction parameters.
type Option func(*Engine)

// WithInterval overrides the default 10s poll cadence.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithRecorder attaches an audit trail for per-auction sync decisions.
func WithRecorder(rec EventRecorder) Option {
	return func(e *Engine) {
		e.recorder = rec
	}
}

// New wires the loop to its registry, the two platform connectors, and the
// retry policy used for reads. Bid submission is never routed through the
// retry executor: without idempotency keys a retried submit can double-bid.
func New(reg *registry.Registry, ebay, artifacte platform.BidSource, policy retry.Policy, limits risk.Limits, log zerolog.Logger, opts ...Option) *Engine {
	policy.Retryable = platform.IsTransient
	e := &Engine{
		reg:         reg,
		ebay:        ebay,
		artifacte:   artifacte,
		policy:      policy,
		limits:      limits,
		log:         log,
		interval:    defaultInterval,
		lastOutcome: make(map[string]SyncEvent),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Interval reports the configured poll cadence.
func (e *Engine) Interval() time.Duration { return e.interval }

// Running reports whether a reconciliation pass is currently executing.
func (e *Engine) Running() bool { return e.running.Load() }

// LastOutcome returns the most recent pass decision for one auction, if any.
func (e *Engine) LastOutcome(id string) (SyncEvent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ev, ok := e.lastOutcome[id]
	return ev, ok
}

// Run executes passes on the configured interval until ctx is canceled. A
// tick that fires while a pass is still executing is skipped, not queued. An
// in-flight pass is allowed to finish after cancellation so bid state is
// never persisted half-updated.
func (e *Engine) Run(ctx context.Context) {
	e.RunOnce(context.WithoutCancel(ctx))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunOnce(context.WithoutCancel(ctx))
		}
	}
}

// RunOnce performs a single reconciliation pass over every registered
// auction, in registry order. It returns false when a pass was already in
// progress and this one was skipped.
func (e *Engine) RunOnce(ctx context.Context) bool {
	if !e.running.CompareAndSwap(false, true) {
		metrics.SyncPassesSkipped.Inc()
		e.log.Debug().Msg("pass still running, tick skipped")
		return false
	}
	defer e.running.Store(false)

	updates := make(map[string]registry.BidState)
	for _, auction := range e.reg.List() {
		if state, ok := e.reconcile(ctx, auction); ok {
			updates[auction.ID] = state
		}
	}
	if err := e.reg.Apply(updates); err != nil {
		e.log.Error().Err(err).Msg("persist registry after pass")
	}
	metrics.SyncPassesTotal.Inc()
	return true
}

// reconcile evaluates one auction and executes at most one push. It reports
// the new bid state and whether the registry entry should be updated at all;
// a failed push leaves the entry untouched so the next tick retries from
// fresh reads.
func (e *Engine) reconcile(ctx context.Context, auction registry.SyncedAuction) (registry.BidState, bool) {
	// The two reads are independent, so issue them together.
	var ebayBid, artifacteBid float64
	g := new(errgroup.Group)
	g.Go(func() error {
		ebayBid = e.readSide(ctx, e.ebay, auction.EbayItemID, auction.CurrentBid)
		return nil
	})
	g.Go(func() error {
		artifacteBid = e.readSide(ctx, e.artifacte, auction.ArtifacteSlug, auction.CurrentBid)
		return nil
	})
	_ = g.Wait()

	event := SyncEvent{
		AuctionID:    auction.ID,
		Title:        auction.Title,
		EbayBid:      ebayBid,
		ArtifacteBid: artifacteBid,
		Ts:           time.Now().UTC(),
	}

	switch {
	case ebayBid > artifacteBid && auction.LastSyncDirection != registry.FromEbay:
		e.log.Info().Str("auction", auction.Title).Float64("ebay", ebayBid).Float64("artifacte", artifacteBid).Msg("ebay bid higher, syncing to artifacte")
		return e.push(ctx, e.artifacte, auction.ArtifacteSlug, ebayBid, registry.FromEbay, event)

	case artifacteBid > ebayBid && auction.LastSyncDirection != registry.FromArtifacte:
		e.log.Info().Str("auction", auction.Title).Float64("artifacte", artifacteBid).Float64("ebay", ebayBid).Msg("artifacte bid higher, syncing to ebay")
		return e.push(ctx, e.ebay, auction.EbayItemID, artifacteBid, registry.FromArtifacte, event)

	default:
		// Bids agree, or the higher side is the one we just pushed to and its
		// counterpart has not caught up yet. Record the observed maximum only.
		event.Action = ActionObserved
		event.Amount = max(ebayBid, artifacteBid)
		e.finish(event)
		return registry.BidState{CurrentBid: event.Amount, LastSyncDirection: auction.LastSyncDirection}, true
	}
}

// readSide fetches one platform's current bid through the retry executor,
// falling back to the last reconciled amount when attempts are exhausted so a
// flaky upstream never blocks the rest of the pass.
func (e *Engine) readSide(ctx context.Context, source platform.BidSource, ref string, fallback float64) float64 {
	quote, attempts, err := retry.Do(ctx, e.policy, e.log, source.Name()+" fetch "+ref,
		func(ctx context.Context) (platform.Quote, error) {
			return source.FetchCurrentBid(ctx, ref)
		})
	if err != nil {
		metrics.UpstreamErrorsTotal.WithLabelValues(source.Name(), string(platform.KindOf(err))).Inc()
		e.log.Warn().Err(err).Str("platform", source.Name()).Str("ref", ref).Int("attempts", attempts).Msg("read failed, using last reconciled bid")
		return fallback
	}
	return quote.Amount
}

// push submits amount to target exactly once. Submission is deliberately kept
// outside the retry executor.
func (e *Engine) push(ctx context.Context, target platform.BidSource, ref string, amount float64, direction registry.Direction, event SyncEvent) (registry.BidState, bool) {
	event.Amount = amount

	if !e.limits.Allow(amount) {
		event.Action = ActionBidCapExceeded
		e.log.Warn().Str("platform", target.Name()).Str("ref", ref).Float64("amount", amount).Float64("cap", e.limits.MaxBidPerPush).Msg("bid exceeds configured cap, push withheld")
		metrics.BidPushesTotal.WithLabelValues(target.Name(), "capped").Inc()
		e.finish(event)
		return registry.BidState{}, false
	}

	receipt, err := target.SubmitBid(ctx, ref, amount)
	switch {
	case errors.Is(err, platform.ErrSignerRequired):
		// Actionable alert: the push toward the on-chain side needs a wallet
		// signature the engine does not hold. State stays untouched so the
		// intent is re-raised every tick until an operator acts.
		event.Action = ActionSignerRequired
		event.Error = err.Error()
		e.log.Warn().Str("ref", ref).Float64("amount", amount).Msg("artifacte push needs an external signer, raising alert")
		metrics.BidPushesTotal.WithLabelValues(target.Name(), "signer_required").Inc()
		e.finish(event)
		return registry.BidState{}, false

	case err != nil:
		event.Action = ActionPushFailed
		event.Error = err.Error()
		e.log.Error().Err(err).Str("platform", target.Name()).Str("ref", ref).Float64("amount", amount).Msg("bid push failed")
		metrics.UpstreamErrorsTotal.WithLabelValues(target.Name(), string(platform.KindOf(err))).Inc()
		metrics.BidPushesTotal.WithLabelValues(target.Name(), "error").Inc()
		e.finish(event)
		return registry.BidState{}, false

	default:
		if direction == registry.FromEbay {
			event.Action = ActionPushedToArtifacte
		} else {
			event.Action = ActionPushedToEbay
		}
		event.Confirmation = receipt.Confirmation
		e.log.Info().Str("platform", target.Name()).Str("ref", ref).Float64("amount", amount).Str("confirmation", receipt.Confirmation).Msg("bid pushed")
		metrics.BidPushesTotal.WithLabelValues(target.Name(), "ok").Inc()
		e.finish(event)
		return registry.BidState{CurrentBid: amount, LastSyncDirection: direction}, true
	}
}

func (e *Engine) finish(event SyncEvent) {
	e.mu.Lock()
	e.lastOutcome[event.AuctionID] = event
	e.mu.Unlock()
	if e.recorder != nil {
		e.recorder.Record(event)
	}
}
