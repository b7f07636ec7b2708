// Package memory provides an in-memory Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// Store implements notice.Store with mutex-guarded maps. It enforces the
// same uniqueness rules as the Postgres schema so pipeline tests exercise
// real invariants.
type Store struct {
	mu sync.Mutex

	raw      map[string]notice.RawRecord      // by raw ID
	analyzed map[string]notice.AnalyzedRecord // by analyzed ID
	sent     map[string]notice.SentRecord     // by sent ID

	rawFingerprints map[notice.DistrictCode]map[string]string // fingerprint -> raw ID
	analyzedByRaw   map[string]string                         // raw ID -> analyzed ID
	sentByAnalyzed  map[string]string                         // analyzed ID -> sent ID

	logs    []notice.ExecutionLog
	metrics []notice.ExecutionMetric
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		raw:             make(map[string]notice.RawRecord),
		analyzed:        make(map[string]notice.AnalyzedRecord),
		sent:            make(map[string]notice.SentRecord),
		rawFingerprints: make(map[notice.DistrictCode]map[string]string),
		analyzedByRaw:   make(map[string]string),
		sentByAnalyzed:  make(map[string]string),
	}
}

// SaveRaw persists a new raw record. A duplicate fingerprint within the
// district is rejected, mirroring the unique index in Postgres.
func (s *Store) SaveRaw(_ context.Context, rec notice.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFp := s.rawFingerprints[rec.District]
	if byFp == nil {
		byFp = make(map[string]string)
		s.rawFingerprints[rec.District] = byFp
	}
	if _, exists := byFp[rec.Fingerprint]; exists {
		return fmt.Errorf("raw record with fingerprint %s already exists for %s", rec.Fingerprint, rec.District)
	}
	byFp[rec.Fingerprint] = rec.ID
	s.raw[rec.ID] = rec
	return nil
}

// RawFingerprints returns the set of stored fingerprints for one district.
func (s *Store) RawFingerprints(_ context.Context, district notice.DistrictCode) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool, len(s.rawFingerprints[district]))
	for fp := range s.rawFingerprints[district] {
		out[fp] = true
	}
	return out, nil
}

// UnanalyzedRaw returns raw records with no structured counterpart, oldest
// first for deterministic processing.
func (s *Store) UnanalyzedRaw(_ context.Context) ([]notice.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notice.RawRecord
	for id, rec := range s.raw {
		if _, done := s.analyzedByRaw[id]; !done {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

// SaveAnalyzed persists the structured counterpart of one raw record,
// enforcing the 1:1 edge.
func (s *Store) SaveAnalyzed(_ context.Context, rec notice.AnalyzedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.raw[rec.RawID]; !ok {
		return fmt.Errorf("raw record %s not found", rec.RawID)
	}
	if _, exists := s.analyzedByRaw[rec.RawID]; exists {
		return fmt.Errorf("raw record %s already analyzed", rec.RawID)
	}
	s.analyzedByRaw[rec.RawID] = rec.ID
	s.analyzed[rec.ID] = rec
	return nil
}

// UnsentAnalyzed returns analyzed records with no sent marker.
func (s *Store) UnsentAnalyzed(_ context.Context, includeNeedsReview bool) ([]notice.AnalyzedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notice.AnalyzedRecord
	for id, rec := range s.analyzed {
		if _, done := s.sentByAnalyzed[id]; done {
			continue
		}
		if rec.Status == notice.AnalysisNeedsReview && !includeNeedsReview {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnalyzedAt.Equal(out[j].AnalyzedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AnalyzedAt.Before(out[j].AnalyzedAt)
	})
	return out, nil
}

// SaveSent marks one analyzed record delivered, enforcing the 1:1 edge.
func (s *Store) SaveSent(_ context.Context, rec notice.SentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.analyzed[rec.AnalyzedID]; !ok {
		return fmt.Errorf("analyzed record %s not found", rec.AnalyzedID)
	}
	if _, exists := s.sentByAnalyzed[rec.AnalyzedID]; exists {
		return fmt.Errorf("analyzed record %s already sent", rec.AnalyzedID)
	}
	s.sentByAnalyzed[rec.AnalyzedID] = rec.ID
	s.sent[rec.ID] = rec
	return nil
}

// SaveLog appends one execution log line.
func (s *Store) SaveLog(_ context.Context, entry notice.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

// SaveMetric appends one execution metric row.
func (s *Store) SaveMetric(_ context.Context, metric notice.ExecutionMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
	return nil
}

// CleanupOrphanSent deletes sent markers whose analyzed record is gone.
func (s *Store) CleanupOrphanSent(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.sent {
		if _, ok := s.analyzed[rec.AnalyzedID]; !ok {
			delete(s.sent, id)
			delete(s.sentByAnalyzed, rec.AnalyzedID)
			removed++
		}
	}
	return removed, nil
}

// CleanupDuplicateSent deletes redundant sent markers, keeping the earliest
// per analyzed record.
func (s *Store) CleanupDuplicateSent(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := make(map[string]notice.SentRecord)
	for _, rec := range s.sent {
		cur, ok := earliest[rec.AnalyzedID]
		if !ok || rec.SentAt.Before(cur.SentAt) {
			earliest[rec.AnalyzedID] = rec
		}
	}
	removed := 0
	for id, rec := range s.sent {
		if earliest[rec.AnalyzedID].ID != id {
			delete(s.sent, id)
			removed++
		}
	}
	for analyzedID, rec := range earliest {
		s.sentByAnalyzed[analyzedID] = rec.ID
	}
	return removed, nil
}

// Counts returns collection sizes; used by tests to check 1:1 invariants.
func (s *Store) Counts() (raw, analyzed, sent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.raw), len(s.analyzed), len(s.sent)
}

// Logs returns a copy of the persisted log lines.
func (s *Store) Logs() []notice.ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notice.ExecutionLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Metrics returns a copy of the persisted metric rows.
func (s *Store) Metrics() []notice.ExecutionMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notice.ExecutionMetric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// Sent returns a copy of the sent markers keyed by analyzed ID.
func (s *Store) Sent() map[string]notice.SentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]notice.SentRecord, len(s.sent))
	for _, rec := range s.sent {
		out[rec.AnalyzedID] = rec
	}
	return out
}
