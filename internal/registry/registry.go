// Package registry keeps the durable set of synchronized auctions: the link
// between an eBay item and its Artifacte counterpart plus the engine's
// last-reconciled bid state. The whole set is small (tens of entries), loaded
// at start, and rewritten in full on every mutation.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/HosicoStarChild/artifacte-seeker/internal/metrics"
)

// Direction records which platform most recently supplied the authoritative
// bid, so the loop does not re-push while the other side is still catching up.
type Direction string

const (
	DirectionNone Direction = "none"
	FromEbay      Direction = "from-ebay"
	FromArtifacte Direction = "from-artifacte"
)

// SyncedAuction links one auction across both platforms.
type SyncedAuction struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	EbayItemID        string    `json:"ebayItemId"`
	ArtifacteSlug     string    `json:"artifacteSlug"`
	CurrentBid        float64   `json:"currentBid"`
	LastSyncDirection Direction `json:"lastSyncDirection"`
}

// BidState is the slice of a record the reconciliation loop may mutate.
type BidState struct {
	CurrentBid        float64
	LastSyncDirection Direction
}

var (
	// ErrDuplicateID rejects re-registration of an existing auction id.
	ErrDuplicateID = errors.New("auction id already registered")
	// ErrNotFound marks a lookup for an unknown auction id.
	ErrNotFound = errors.New("auction not found")
)

// Registry is the in-memory set plus its JSON file backing. All mutation goes
// through one mutex shared by the control API's registration path and the
// loop's end-of-pass write-through.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries []SyncedAuction
}

// Open loads the registry from path. A missing file yields an empty registry;
// an unreadable or corrupt file is an error the process must not start over.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.AuctionsRegistered.Set(0)
			return r, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if err := json.Unmarshal(raw, &r.entries); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	for i := range r.entries {
		if r.entries[i].LastSyncDirection == "" {
			r.entries[i].LastSyncDirection = DirectionNone
		}
	}
	metrics.AuctionsRegistered.Set(float64(len(r.entries)))
	return r, nil
}

// Add validates and stores a new entry, assigning an id when absent, and
// persists the registry before returning the stored record.
func (r *Registry) Add(entry SyncedAuction) (SyncedAuction, error) {
	if strings.TrimSpace(entry.Title) == "" || strings.TrimSpace(entry.EbayItemID) == "" || strings.TrimSpace(entry.ArtifacteSlug) == "" {
		return SyncedAuction{}, errors.New("title, ebayItemId, and artifacteSlug required")
	}
	if entry.CurrentBid < 0 {
		return SyncedAuction{}, errors.New("currentBid must be non-negative")
	}
	if entry.ID == "" {
		entry.ID = "sync-" + uuid.NewString()
	}
	if entry.LastSyncDirection == "" {
		entry.LastSyncDirection = DirectionNone
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.ID == entry.ID {
			return SyncedAuction{}, ErrDuplicateID
		}
	}
	r.entries = append(r.entries, entry)
	if err := r.save(); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		return SyncedAuction{}, err
	}
	metrics.AuctionsRegistered.Set(float64(len(r.entries)))
	return entry, nil
}

// Find returns the record for id.
func (r *Registry) Find(id string) (SyncedAuction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return SyncedAuction{}, ErrNotFound
}

// List returns a copy of all records in registration order.
func (r *Registry) List() []SyncedAuction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SyncedAuction, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of registered auctions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Apply merges the loop's per-auction bid updates and persists the full set
// once. Ids registered after the pass snapshot are untouched; ids deleted in
// the meantime (not possible today) would simply be skipped.
func (r *Registry) Apply(updates map[string]BidState) error {
	if len(updates) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if state, ok := updates[r.entries[i].ID]; ok {
			r.entries[i].CurrentBid = state.CurrentBid
			r.entries[i].LastSyncDirection = state.LastSyncDirection
		}
	}
	return r.save()
}

// save writes the full set atomically (temp file + rename) as readable JSON.
// Callers must hold the write lock.
func (r *Registry) save() error {
	if r.path == "" {
		return nil
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
