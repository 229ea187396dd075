package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HosicoStarChild/artifacte-seeker/internal/platform"
	"github.com/HosicoStarChild/artifacte-seeker/internal/registry"
	"github.com/HosicoStarChild/artifacte-seeker/internal/retry"
	"github.com/HosicoStarChild/artifacte-seeker/internal/risk"
)

type submittedBid struct {
	Ref    string
	Amount float64
}

// fakeSource implements platform.BidSource with scripted quotes and failures.
type fakeSource struct {
	name string

	mu        sync.Mutex
	quotes    map[string]float64
	fetchErr  map[string]error
	submitErr error
	blockOn   chan struct{}
	submitted []submittedBid
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{
		name:     name,
		quotes:   make(map[string]float64),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchCurrentBid(ctx context.Context, ref string) (platform.Quote, error) {
	if f.blockOn != nil {
		<-f.blockOn
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[ref]; err != nil {
		return platform.Quote{}, err
	}
	return platform.Quote{Amount: f.quotes[ref], BidCount: 1}, nil
}

func (f *fakeSource) SubmitBid(ctx context.Context, ref string, amount float64) (platform.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return platform.Receipt{}, f.submitErr
	}
	f.submitted = append(f.submitted, submittedBid{Ref: ref, Amount: amount})
	return platform.Receipt{Confirmation: "conf-1", Amount: amount}, nil
}

func (f *fakeSource) submissions() []submittedBid {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]submittedBid, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func transientErr() error {
	return &platform.UpstreamError{Kind: platform.KindUnavailable, Op: "fake fetch", Err: errors.New("connection refused")}
}

func rejectedErr() error {
	return &platform.UpstreamError{Kind: platform.KindRejected, Op: "fake submit", Err: errors.New("auction not found")}
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
}

func testSetup(t *testing.T, auctions ...registry.SyncedAuction) (*registry.Registry, *fakeSource, *fakeSource) {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "auctions.json"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	for _, a := range auctions {
		if _, err := reg.Add(a); err != nil {
			t.Fatalf("Add returned error: %v", err)
		}
	}
	return reg, newFakeSource("ebay"), newFakeSource("artifacte")
}

func auctionFixture(id string) registry.SyncedAuction {
	return registry.SyncedAuction{
		ID:            id,
		Title:         "Test Artifact",
		EbayItemID:    "item-" + id,
		ArtifacteSlug: "slug-" + id,
		CurrentBid:    0,
	}
}

func TestPassPushesHigherEbayBid(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 100
	artifacte.quotes["slug-sync-a"] = 80

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	if !e.RunOnce(context.Background()) {
		t.Fatalf("expected pass to run")
	}

	pushes := artifacte.submissions()
	if len(pushes) != 1 || pushes[0].Ref != "slug-sync-a" || pushes[0].Amount != 100 {
		t.Fatalf("expected one push of 100 to artifacte, got %+v", pushes)
	}
	if len(ebay.submissions()) != 0 {
		t.Fatalf("expected no push to ebay")
	}
	got, err := reg.Find("sync-a")
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if got.CurrentBid != 100 || got.LastSyncDirection != registry.FromEbay {
		t.Fatalf("unexpected state after pass: %+v", got)
	}
	outcome, ok := e.LastOutcome("sync-a")
	if !ok || outcome.Action != ActionPushedToArtifacte {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestPassPushesHigherArtifacteBid(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 60
	artifacte.quotes["slug-sync-a"] = 75

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())

	pushes := ebay.submissions()
	if len(pushes) != 1 || pushes[0].Ref != "item-sync-a" || pushes[0].Amount != 75 {
		t.Fatalf("expected one push of 75 to ebay, got %+v", pushes)
	}
	got, _ := reg.Find("sync-a")
	if got.CurrentBid != 75 || got.LastSyncDirection != registry.FromArtifacte {
		t.Fatalf("unexpected state after pass: %+v", got)
	}
}

func TestPushFailureLeavesStateUnchanged(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 100
	artifacte.quotes["slug-sync-a"] = 80
	artifacte.submitErr = rejectedErr()

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())

	got, _ := reg.Find("sync-a")
	if got.CurrentBid != 0 || got.LastSyncDirection != registry.DirectionNone {
		t.Fatalf("expected state untouched after failed push, got %+v", got)
	}
	outcome, ok := e.LastOutcome("sync-a")
	if !ok || outcome.Action != ActionPushFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestEqualBidsObserveOnly(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 100
	artifacte.quotes["slug-sync-a"] = 100

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())

	if len(ebay.submissions())+len(artifacte.submissions()) != 0 {
		t.Fatalf("expected no pushes for equal bids")
	}
	got, _ := reg.Find("sync-a")
	if got.CurrentBid != 100 || got.LastSyncDirection != registry.DirectionNone {
		t.Fatalf("expected observational update only, got %+v", got)
	}
}

func TestOscillationGuardSuppressesRepush(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 100
	artifacte.quotes["slug-sync-a"] = 80

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())
	if len(artifacte.submissions()) != 1 {
		t.Fatalf("expected first pass to push")
	}

	// Artifacte's read still reports the stale lower bid; the engine must
	// wait for it to catch up rather than re-push every tick.
	e.RunOnce(context.Background())
	if len(artifacte.submissions()) != 1 {
		t.Fatalf("expected no re-push while direction is from-ebay, got %+v", artifacte.submissions())
	}
	got, _ := reg.Find("sync-a")
	if got.CurrentBid != 100 || got.LastSyncDirection != registry.FromEbay {
		t.Fatalf("unexpected state after guarded pass: %+v", got)
	}
}

func TestReadFailureFallsBackToCurrentBid(t *testing.T) {
	auction := auctionFixture("sync-a")
	auction.CurrentBid = 90
	reg, ebay, artifacte := testSetup(t, auction)
	ebay.fetchErr["item-sync-a"] = transientErr()
	artifacte.quotes["slug-sync-a"] = 90

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())

	if len(ebay.submissions())+len(artifacte.submissions()) != 0 {
		t.Fatalf("expected no pushes when the failed side falls back to the reconciled bid")
	}
	got, _ := reg.Find("sync-a")
	if got.CurrentBid != 90 {
		t.Fatalf("expected currentBid preserved, got %+v", got)
	}
}

func TestSignerRequiredRaisesAlert(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 100
	artifacte.quotes["slug-sync-a"] = 80
	artifacte.submitErr = platform.ErrSignerRequired

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())

	got, _ := reg.Find("sync-a")
	if got.CurrentBid != 0 || got.LastSyncDirection != registry.DirectionNone {
		t.Fatalf("expected state untouched when signer is missing, got %+v", got)
	}
	outcome, ok := e.LastOutcome("sync-a")
	if !ok || outcome.Action != ActionSignerRequired {
		t.Fatalf("expected signer-required alert, got %+v", outcome)
	}
}

func TestBidCapWithholdsPush(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	ebay.quotes["item-sync-a"] = 50000
	artifacte.quotes["slug-sync-a"] = 80

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{MaxBidPerPush: 25000}, zerolog.Nop())
	e.RunOnce(context.Background())

	if len(artifacte.submissions()) != 0 {
		t.Fatalf("expected capped push to be withheld")
	}
	outcome, _ := e.LastOutcome("sync-a")
	if outcome.Action != ActionBidCapExceeded {
		t.Fatalf("expected bid-cap-exceeded outcome, got %+v", outcome)
	}
}

func TestFailuresIsolatedPerAuction(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"), auctionFixture("sync-b"))
	ebay.fetchErr["item-sync-a"] = transientErr()
	artifacte.fetchErr["slug-sync-a"] = transientErr()
	ebay.quotes["item-sync-b"] = 100
	artifacte.quotes["slug-sync-b"] = 80

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())
	e.RunOnce(context.Background())

	pushes := artifacte.submissions()
	if len(pushes) != 1 || pushes[0].Ref != "slug-sync-b" {
		t.Fatalf("expected the healthy auction to sync despite the broken one, got %+v", pushes)
	}
	got, _ := reg.Find("sync-b")
	if got.CurrentBid != 100 || got.LastSyncDirection != registry.FromEbay {
		t.Fatalf("unexpected state for healthy auction: %+v", got)
	}
}

func TestOverlappingPassIsSkipped(t *testing.T) {
	reg, ebay, artifacte := testSetup(t, auctionFixture("sync-a"))
	block := make(chan struct{})
	ebay.blockOn = block
	artifacte.quotes["slug-sync-a"] = 80

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop())

	done := make(chan bool, 1)
	go func() { done <- e.RunOnce(context.Background()) }()

	waitFor(t, func() bool { return e.Running() })
	if e.RunOnce(context.Background()) {
		t.Fatalf("expected overlapping pass to be skipped")
	}

	close(block)
	select {
	case ran := <-done:
		if !ran {
			t.Fatalf("expected first pass to run")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for blocked pass to finish")
	}
	if e.Running() {
		t.Fatalf("expected running flag cleared after pass")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	reg, ebay, artifacte := testSetup(t)
	_ = ebay
	_ = artifacte

	e := New(reg, ebay, artifacte, fastPolicy(), risk.Limits{}, zerolog.Nop(), WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
