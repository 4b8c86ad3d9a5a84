// Package memory provides an in-process store implementation. It backs the
// test fixtures and the no-database development mode; the postgres package is
// the production implementation of the same interfaces.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kigalipay/momoguard/internal/domain/model"
	"github.com/kigalipay/momoguard/internal/store"
)

// Store is a mutex-serialized in-memory record store. Insert-if-absent is
// atomic under the write lock, matching the store contract.
type Store struct {
	mu      sync.RWMutex
	byTxID  map[string]*model.Record
	records []model.Record // insertion order

	verifications []model.VerificationAttempt
	alerts        []model.FraudAlert
}

func New() *Store {
	return &Store{byTxID: make(map[string]*model.Record)}
}

var (
	_ store.RecordRepository       = (*Store)(nil)
	_ store.VerificationRepository = (*Store)(nil)
	_ store.FraudAlertRepository   = (*Store)(nil)
)

func (s *Store) InsertIfAbsent(_ context.Context, rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTxID[rec.TxID]; exists {
		return store.ErrDuplicateTxID
	}

	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, stored)
	s.byTxID[stored.TxID] = &s.records[len(s.records)-1]
	return nil
}

func (s *Store) Get(_ context.Context, txID string) (*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byTxID[txID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) ScanSince(_ context.Context, since time.Time, limit int) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ScanCounterparty(_ context.Context, key string, since time.Time) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, 0)
	for _, rec := range s.records {
		if rec.CounterpartyKey() == key && !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) CountByCategory(_ context.Context) (map[model.Category]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.Category]int64)
	for _, rec := range s.records {
		out[rec.Category]++
	}
	return out, nil
}

func (s *Store) InsertAttempt(_ context.Context, att *model.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *att
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.verifications = append(s.verifications, stored)
	return nil
}

func (s *Store) InsertAlert(_ context.Context, alert *model.FraudAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *alert
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.alerts = append(s.alerts, stored)
	return nil
}

func (s *Store) CountByStatus(_ context.Context) (map[model.VerificationStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.VerificationStatus]int64)
	for _, v := range s.verifications {
		out[v.Status]++
	}
	return out, nil
}

func (s *Store) ListByTxID(_ context.Context, txID string) ([]model.FraudAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.FraudAlert, 0)
	for _, a := range s.alerts {
		if a.TxID == txID {
			out = append(out, a)
		}
	}
	return out, nil
}

func sortNewestFirst(recs []model.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].TxID < recs[j].TxID
		}
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}
