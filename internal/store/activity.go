package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/replydeck/helmsman/internal/models"
)

// ActivityLog is the append-only record of every dispatch attempt. Entries
// are never updated or deleted by the engine.
type ActivityLog struct {
	db *sql.DB
}

// NewActivityLog creates an activity log backed by db.
func NewActivityLog(db *sql.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

// Append records one dispatch outcome.
func (l *ActivityLog) Append(ctx context.Context, outcome models.DispatchOutcome) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO activity_log (event_id, account_id, rule_id, outcome, upstream_status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, 0), NOW())`,
		outcome.EventID, outcome.AccountID, outcome.RuleID, outcome.Outcome, outcome.UpstreamStatus)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// Recent returns the latest outcomes for an account, newest first, capped at
// limit.
func (l *ActivityLog) Recent(ctx context.Context, accountID string, limit int) ([]models.DispatchOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, account_id, COALESCE(rule_id, ''), outcome, COALESCE(upstream_status, 0), created_at
		FROM activity_log
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.DispatchOutcome
	for rows.Next() {
		var o models.DispatchOutcome
		if err := rows.Scan(&o.EventID, &o.AccountID, &o.RuleID, &o.Outcome, &o.UpstreamStatus, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, o)
	}
	return entries, rows.Err()
}
