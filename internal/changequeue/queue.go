// Package changequeue implements the append-only per-entity-kind queue
// of ChangeRecords handed off to the durable synchroniser, with a
// crash-safe two-queue drain: main queue -> processing queue ->
// relational commit -> drop processing queue, with processing contents
// replayed back onto the main queue's head on any failure before commit.
package changequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/store"
)

// Backlog-depth thresholds: above DepthDegraded the queue is falling
// behind, above DepthCritical readiness reports unhealthy.
const (
	DepthDegraded = 10000
	DepthCritical = 50000
)

// Queue is a thin wrapper over the Operational Store's list primitives,
// one instance shared by every matching lane (append side) and the
// Durable Synchroniser (drain side).
type Queue struct {
	store  *store.Store
	logger *zap.Logger
}

func New(s *store.Store, logger *zap.Logger) *Queue {
	return &Queue{store: s, logger: logger}
}

// Enqueue appends one change record to sync_queue:{kind}. The payload
// only carries {entityId, operation, timestamp}: the drain side always
// re-reads current state from the hash, so repeated enqueues for the
// same entity collapse naturally without any dedup logic here.
func (q *Queue) Enqueue(ctx context.Context, kind domain.EntityKind, rec domain.ChangeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("matchcore: marshal change record: %w", err)
	}
	if err := q.store.LPush(ctx, store.ChangeQueueKey(string(kind)), string(payload)); err != nil {
		return domain.WrapError(domain.ErrCodeChangeQueue, "change queue append failed", domain.SeverityCritical, err, map[string]interface{}{
			"kind": kind, "entityId": rec.EntityID,
		})
	}
	return nil
}

// Depth returns the current backlog length of the main queue for one
// kind, used by the health monitor and by the synchroniser's
// back-pressure decision.
func (q *Queue) Depth(ctx context.Context, kind domain.EntityKind) (int64, error) {
	return q.store.LLen(ctx, store.ChangeQueueKey(string(kind)))
}

// DrainBatch moves up to batchSize items from the main queue to the
// processing queue via repeated tail-to-head RPOPLPUSH transfers,
// returning the decoded records now parked in the processing queue.
// Each individual transfer is atomic; the batch as a whole is
// crash-safe because anything moved but not yet committed still lives
// in the processing queue for AbortBatch/CommitBatch to resolve.
func (q *Queue) DrainBatch(ctx context.Context, kind domain.EntityKind, batchSize int) ([]domain.ChangeRecord, error) {
	src := store.ChangeQueueKey(string(kind))
	dst := store.ChangeQueueProcessingKey(string(kind))

	records := make([]domain.ChangeRecord, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		raw, err := q.store.RPopLPush(ctx, src, dst)
		if err != nil {
			return records, fmt.Errorf("matchcore: drain transfer: %w", err)
		}
		if raw == "" {
			break // main queue exhausted
		}
		var rec domain.ChangeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			q.logger.Error("matchcore: undecodable change record, skipping",
				zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReloadProcessing recovers a batch left in the processing queue by a
// crash between the relational commit and the queue drop. Used on
// synchroniser startup to resume an interrupted cycle without waiting
// for a fresh DrainBatch.
func (q *Queue) ReloadProcessing(ctx context.Context, kind domain.EntityKind) ([]domain.ChangeRecord, error) {
	dst := store.ChangeQueueProcessingKey(string(kind))
	raws, err := q.store.LRange(ctx, dst, 0, -1)
	if err != nil {
		return nil, err
	}
	records := make([]domain.ChangeRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.ChangeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			q.logger.Error("matchcore: undecodable change record on reload, skipping",
				zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// CommitBatch drops the processing queue after the relational
// transaction committed successfully.
func (q *Queue) CommitBatch(ctx context.Context, kind domain.EntityKind) error {
	dst := store.ChangeQueueProcessingKey(string(kind))
	for {
		v, err := q.store.RPop(ctx, dst)
		if err != nil {
			return err
		}
		if v == "" {
			return nil
		}
	}
}

// AbortBatch replays the processing queue back onto the main queue's
// head, so the batch is retried on the next drain cycle. Used when the
// relational commit failed.
func (q *Queue) AbortBatch(ctx context.Context, kind domain.EntityKind) error {
	src := store.ChangeQueueProcessingKey(string(kind))
	dst := store.ChangeQueueKey(string(kind))
	for {
		v, err := q.store.RPopLPush(ctx, src, dst)
		if err != nil {
			return err
		}
		if v == "" {
			return nil
		}
	}
}

// Severity classifies a depth reading against the backlog thresholds.
func Severity(depth int64) string {
	switch {
	case depth > DepthCritical:
		return "critical"
	case depth > DepthDegraded:
		return "degraded"
	default:
		return "ok"
	}
}

// nowMillis is a small helper kept here so callers building ChangeRecords
// don't each need a time import just for this one line.
func nowMillis() int64 { return time.Now().UnixMilli() }

// NewRecord builds a ChangeRecord stamped with the current time, used by
// the matching lane at every commit point.
func NewRecord(kind domain.EntityKind, op domain.ChangeOperation, entityID string) domain.ChangeRecord {
	return domain.ChangeRecord{
		Entity:    kind,
		Operation: op,
		EntityID:  entityID,
		Timestamp: nowMillis(),
	}
}
