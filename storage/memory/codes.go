package memory

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-codegrant/internal/util"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

type codeEntry struct {
	code   string
	record storage.CodeRecord
	index  int // position in expiryHeap
}

// expiryHeap is a min-heap of code entries ordered by ExpiresAt.
type expiryHeap []*codeEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	return h[i].record.ExpiresAt.Before(h[j].record.ExpiresAt)
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	entry := x.(*codeEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// SaveAuthorizationCode stores a freshly issued code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code string, record *storage.CodeRecord) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == "" || record == nil {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code]; exists {
		err = storage.ErrAuthorizationCodeExists
		return err
	}

	entry := &codeEntry{code: code, record: *record}
	s.codes[code] = entry
	heap.Push(&s.expiries, entry)
	s.codesCountAtomic.Store(int64(len(s.codes)))

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength),
		"client_id", record.ClientID,
		"expires_at", record.ExpiresAt)
	return nil
}

// ConsumeAuthorizationCode redeems a code. The whole check-and-set runs under the
// write lock, so concurrent redemptions of one code are serialized and only the
// first can succeed.
//
// On ErrAuthorizationCodeUsed a copy of the record is returned alongside the error
// so the caller can attribute the reuse attempt.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code, clientID, redirectURL string, now time.Time) (*storage.CodeRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	if security.IsExpired(now, entry.record.ExpiresAt) {
		s.removeLocked(entry)
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	}

	if entry.record.Consumed {
		record := entry.record
		err = storage.ErrAuthorizationCodeUsed
		return &record, err
	}

	if !entry.record.Matches(clientID, redirectURL) {
		err = storage.ErrAuthorizationCodeMismatch
		return nil, err
	}

	entry.record.Consumed = true
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength),
		"client_id", clientID)

	record := entry.record
	return &record, nil
}

// Len returns the number of stored codes, consumed or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codes)
}

// must be called with s.mu held
func (s *Store) removeLocked(entry *codeEntry) {
	if entry.index >= 0 {
		heap.Remove(&s.expiries, entry.index)
	}
	delete(s.codes, entry.code)
	s.codesCountAtomic.Store(int64(len(s.codes)))
}

// must be called with s.mu held
func (s *Store) removeExpiredLocked(now time.Time) int {
	removed := 0
	for s.expiries.Len() > 0 && security.IsExpired(now, s.expiries[0].record.ExpiresAt) {
		entry := heap.Pop(&s.expiries).(*codeEntry)
		delete(s.codes, entry.code)
		removed++
	}
	s.codesCountAtomic.Store(int64(len(s.codes)))
	return removed
}
