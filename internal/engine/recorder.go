package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SyncEvent is one reconciliation decision for one auction, written to the
// audit trail and surfaced as the auction's last outcome on the status API.
type SyncEvent struct {
	AuctionID    string  `json:"auctionId"`
	Title        string  `json:"title"`
	Action       string  `json:"action"`
	EbayBid      float64 `json:"ebayBid"`
	ArtifacteBid float64 `json:"artifacteBid"`
	Amount       float64 `json:"amount,omitempty"`
	Confirmation string  `json:"confirmation,omitempty"`
	Error        string  `json:"error,omitempty"`

	Ts time.Time `json:"ts"`
}

// EventRecorder captures sync events for later analysis.
type EventRecorder interface {
	Record(SyncEvent)
}

// JSONLRecorder appends sync events as JSON lines.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single event to the underlying JSONL file.
func (r *JSONLRecorder) Record(event SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(event)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
