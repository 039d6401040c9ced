// Package store holds the Postgres persistence layer: rule sets and counters,
// account records, and the append-only activity log.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/replydeck/helmsman/internal/models"
)

// RuleStore reads per-account rule sets and owns the per-rule counters.
// Counter increments are single atomic UPDATEs so concurrent dispatches never
// lose updates.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a rule store backed by db.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListEnabled returns the enabled rules for an account ordered by priority
// ascending, ties broken by creation time. The matching engine relies on this
// ordering for first-match-wins semantics.
func (s *RuleStore) ListEnabled(ctx context.Context, accountID string) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, trigger_kind, keywords, case_sensitive, match_mode,
		       template, priority, enabled, triggered, succeeded, failed, created_at
		FROM rules
		WHERE account_id = $1 AND enabled = true
		ORDER BY priority ASC, created_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ruleSet []models.Rule
	for rows.Next() {
		var r models.Rule
		if err := rows.Scan(&r.ID, &r.AccountID, &r.TriggerKind, pq.Array(&r.Keywords),
			&r.CaseSensitive, &r.MatchMode, &r.Template, &r.Priority, &r.Enabled,
			&r.Triggered, &r.Succeeded, &r.Failed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		ruleSet = append(ruleSet, r)
	}
	return ruleSet, rows.Err()
}

// IncrementTriggered bumps the triggered counter for a rule.
func (s *RuleStore) IncrementTriggered(ctx context.Context, ruleID string) error {
	return s.increment(ctx, ruleID, "triggered")
}

// IncrementSucceeded bumps the succeeded counter for a rule.
func (s *RuleStore) IncrementSucceeded(ctx context.Context, ruleID string) error {
	return s.increment(ctx, ruleID, "succeeded")
}

// IncrementFailed bumps the failed counter for a rule.
func (s *RuleStore) IncrementFailed(ctx context.Context, ruleID string) error {
	return s.increment(ctx, ruleID, "failed")
}

func (s *RuleStore) increment(ctx context.Context, ruleID, column string) error {
	// column is one of the fixed counter names above, never user input
	query := fmt.Sprintf("UPDATE rules SET %s = %s + 1 WHERE id = $1", column, column)
	if _, err := s.db.ExecContext(ctx, query, ruleID); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// Stats returns per-rule counters for an account with computed success rates.
func (s *RuleStore) Stats(ctx context.Context, accountID string) ([]models.RuleStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_kind, triggered, succeeded, failed
		FROM rules
		WHERE account_id = $1
		ORDER BY priority ASC, created_at ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("rule stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []models.RuleStats
	for rows.Next() {
		var st models.RuleStats
		if err := rows.Scan(&st.RuleID, &st.TriggerKind, &st.Triggered, &st.Succeeded, &st.Failed); err != nil {
			return nil, fmt.Errorf("scan rule stats: %w", err)
		}
		if st.Triggered > 0 {
			st.SuccessRate = float64(st.Succeeded) / float64(st.Triggered)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
