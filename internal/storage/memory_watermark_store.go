package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface assertion.
var _ WatermarkStore = (*InMemoryWatermarkStore)(nil)

// InMemoryWatermarkStore provides thread-safe in-memory watermark storage
// with the same monotonicity semantics as the persistent store. Used in
// tests and single-process tooling; production runs use
// PersistentWatermarkStore.
type InMemoryWatermarkStore struct {
	// history holds all rows per key in insertion order, mirroring the
	// insert-only audit semantics of processing_history.
	history map[watermarkKey][]*Watermark
	nextID  int64
	mutex   sync.Mutex
}

type watermarkKey struct {
	clientID  uuid.UUID
	tableName string
}

// NewInMemoryWatermarkStore creates an empty in-memory watermark store.
func NewInMemoryWatermarkStore() *InMemoryWatermarkStore {
	return &InMemoryWatermarkStore{
		history: make(map[watermarkKey][]*Watermark),
	}
}

// Latest returns the most recent completed watermark, or (nil, nil) if none.
func (s *InMemoryWatermarkStore) Latest(
	_ context.Context,
	clientID uuid.UUID,
	tableName string,
) (*Watermark, error) {
	if tableName == "" {
		return nil, ErrEmptyTableName
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if latest := s.latestCompletedLocked(clientID, tableName); latest != nil {
		copied := *latest

		return &copied, nil
	}

	return nil, nil
}

// IsAlreadyProcessed reports whether candidate is covered by the latest
// completed watermark.
func (s *InMemoryWatermarkStore) IsAlreadyProcessed(
	ctx context.Context,
	clientID uuid.UUID,
	tableName string,
	candidate time.Time,
) (bool, error) {
	latest, err := s.Latest(ctx, clientID, tableName)
	if err != nil {
		return false, err
	}

	if latest == nil {
		return false, nil
	}

	return !candidate.After(latest.Position), nil
}

// Commit appends a new row, enforcing monotonicity for completed rows.
func (s *InMemoryWatermarkStore) Commit(_ context.Context, req CommitRequest) (*Watermark, error) {
	if req.TableName == "" {
		return nil, ErrEmptyTableName
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if req.Status == StatusCompleted {
		latest := s.latestCompletedLocked(req.ClientID, req.TableName)
		if latest != nil && !req.Position.After(latest.Position) {
			return nil, fmt.Errorf("%w: %s/%s at %s",
				ErrStaleWatermark, req.ClientID, req.TableName,
				req.Position.UTC().Format(time.RFC3339Nano))
		}
	}

	s.nextID++
	watermark := &Watermark{
		ID:               s.nextID,
		ClientID:         req.ClientID,
		TableName:        req.TableName,
		Position:         req.Position.UTC(),
		RecordsProcessed: req.RecordsProcessed,
		BatchID:          req.BatchID,
		ProcessedAt:      time.Now().UTC(),
		Duration:         req.Duration,
		Status:           req.Status,
		ErrorMessage:     req.ErrorMessage,
	}

	key := watermarkKey{clientID: req.ClientID, tableName: req.TableName}
	s.history[key] = append(s.history[key], watermark)

	copied := *watermark

	return &copied, nil
}

// History returns recent rows for the key, most recent first.
func (s *InMemoryWatermarkStore) History(
	_ context.Context,
	clientID uuid.UUID,
	tableName string,
	limit int,
) ([]*Watermark, error) {
	if tableName == "" {
		return nil, ErrEmptyTableName
	}

	if limit <= 0 {
		limit = 10
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows := s.history[watermarkKey{clientID: clientID, tableName: tableName}]

	result := make([]*Watermark, 0, limit)

	for i := len(rows) - 1; i >= 0 && len(result) < limit; i-- {
		copied := *rows[i]
		result = append(result, &copied)
	}

	return result, nil
}

// latestCompletedLocked scans for the completed row with the highest
// position. Callers must hold the mutex.
func (s *InMemoryWatermarkStore) latestCompletedLocked(clientID uuid.UUID, tableName string) *Watermark {
	var latest *Watermark

	for _, row := range s.history[watermarkKey{clientID: clientID, tableName: tableName}] {
		if row.Status != StatusCompleted {
			continue
		}

		if latest == nil || row.Position.After(latest.Position) {
			latest = row
		}
	}

	return latest
}
