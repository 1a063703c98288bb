package docstore

import (
	"context"
	"fmt"
	"time"
)

// MarkDelivered records that the occurrence of a request was dispatched.
// It returns false when the occurrence had already been recorded.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, owner, requestID, occurrence string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deliveries (owner_id, request_id, occurrence, dispatched_at)
		VALUES (?, ?, ?, ?)`,
		owner, requestID, occurrence, s.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	return n > 0, nil
}

// PruneDeliveries removes delivery records dispatched before cutoff.
func (s *SQLiteStore) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE dispatched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune deliveries: %w", err)
	}
	return res.RowsAffected()
}
