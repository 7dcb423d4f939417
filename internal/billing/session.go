package billing

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRowNotFound     = errors.New("row not found in working set")
)

// Session holds the mutable state of one uploaded sheet: the working
// set of records and the artifact store. It is created at file load and
// discarded with the store; nothing is persisted.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	records   []InvoiceRecord
	artifacts map[string]Artifact
	order     []string
}

func newSession(records []InvoiceRecord) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		records:   records,
		artifacts: map[string]Artifact{},
	}
}

// Records returns a copy of the working set in sheet order.
func (s *Session) Records() []InvoiceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InvoiceRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Record looks a row up by its sheet index.
func (s *Session) Record(index int) (InvoiceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.Index == index {
			return rec, true
		}
	}
	return InvoiceRecord{}, false
}

// UpdateRecord applies fn to the row with the given sheet index.
func (s *Session) UpdateRecord(index int, fn func(*InvoiceRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].Index == index {
			fn(&s.records[i])
			return true
		}
	}
	return false
}

// PutArtifact stores a generated document under its invoice number,
// replacing any prior entry. A replaced entry keeps its original
// position so archive contents stay stable across regenerations.
func (s *Session) PutArtifact(a Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[a.InvoiceNumber]; !ok {
		s.order = append(s.order, a.InvoiceNumber)
	}
	s.artifacts[a.InvoiceNumber] = a
}

// Artifact retrieves a single stored document.
func (s *Session) Artifact(invoiceNumber string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[invoiceNumber]
	return a, ok
}

// Artifacts returns every stored document in insertion order.
func (s *Session) Artifacts() []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Artifact, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.artifacts[key])
	}
	return out
}

// SessionStore keeps the live sessions of this process.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]*Session{}}
}

func (st *SessionStore) Create(records []InvoiceRecord) *Session {
	s := newSession(records)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = s
	return s
}

func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}
