package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TranscriptEntry is one line of a registration attempt's transcript.
// Entries are hash-chained per invoice so the record of what the
// authority said cannot be silently edited after the fact.
type TranscriptEntry struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoiceNumber"`
	Line          string    `json:"line"`
	Ts            time.Time `json:"timestamp"`
	Hash          string    `json:"hash"`
	PrevHash      string    `json:"prevHash"`
}

// TranscriptRecorder is the append-only store of registration
// transcripts, keyed by invoice identifier. Lines are kept verbatim in
// arrival order, never reordered or summarized.
type TranscriptRecorder struct {
	mu        sync.RWMutex
	byInvoice map[string][]TranscriptEntry
}

func NewTranscriptRecorder() *TranscriptRecorder {
	return &TranscriptRecorder{byInvoice: map[string][]TranscriptEntry{}}
}

// Append chains a new line onto the invoice's transcript.
func (t *TranscriptRecorder) Append(invoiceNumber, line string) TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.byInvoice[invoiceNumber]
	prev := ""
	if len(entries) > 0 {
		prev = entries[len(entries)-1].Hash
	}
	entry := TranscriptEntry{
		ID:            uuid.NewString(),
		InvoiceNumber: invoiceNumber,
		Line:          line,
		Ts:            time.Now().UTC(),
		PrevHash:      prev,
	}
	entry.Hash = hashEntry(entry)
	t.byInvoice[invoiceNumber] = append(entries, entry)
	return entry
}

// Lines returns the transcript lines for an invoice in append order.
func (t *TranscriptRecorder) Lines(invoiceNumber string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := t.byInvoice[invoiceNumber]
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line
	}
	return lines
}

func hashEntry(e TranscriptEntry) string {
	payload := fmt.Sprintf("%s|%s|%s|%s", e.InvoiceNumber, e.Line, e.Ts.Format(time.RFC3339Nano), e.PrevHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
