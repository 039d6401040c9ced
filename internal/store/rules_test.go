package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/replydeck/helmsman/internal/models"
)

func TestListEnabled(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRuleStore(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "account_id", "trigger_kind", "keywords", "case_sensitive", "match_mode",
		"template", "priority", "enabled", "triggered", "succeeded", "failed", "created_at",
	}).
		AddRow("r-1", "acct-1", "keyword_comment", pq.Array([]string{"price", "cost"}), false, "contains",
			"DM sent: {name}", 1, true, 10, 8, 2, now).
		AddRow("r-2", "acct-1", "new_follower", pq.Array([]string{}), false, "contains",
			"welcome!", 2, true, 0, 0, 0, now)

	mock.ExpectQuery("FROM rules").
		WithArgs("acct-1").
		WillReturnRows(rows)

	ruleSet, err := s.ListEnabled(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(ruleSet) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(ruleSet))
	}
	if ruleSet[0].ID != "r-1" || ruleSet[0].TriggerKind != models.TriggerKeywordComment {
		t.Fatalf("unexpected first rule: %+v", ruleSet[0])
	}
	if len(ruleSet[0].Keywords) != 2 || ruleSet[0].Keywords[0] != "price" {
		t.Fatalf("unexpected keywords: %v", ruleSet[0].Keywords)
	}
	if len(ruleSet[1].Keywords) != 0 {
		t.Fatalf("expected empty keywords, got %v", ruleSet[1].Keywords)
	}
}

func TestListEnabledEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRuleStore(db)

	mock.ExpectQuery("FROM rules").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "trigger_kind", "keywords", "case_sensitive", "match_mode",
			"template", "priority", "enabled", "triggered", "succeeded", "failed", "created_at",
		}))

	ruleSet, err := s.ListEnabled(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(ruleSet) != 0 {
		t.Fatalf("expected no rules, got %d", len(ruleSet))
	}
}

func TestIncrementCounters(t *testing.T) {
	tests := []struct {
		name   string
		column string
		call   func(s *RuleStore, ctx context.Context) error
	}{
		{"triggered", "triggered", func(s *RuleStore, ctx context.Context) error {
			return s.IncrementTriggered(ctx, "r-1")
		}},
		{"succeeded", "succeeded", func(s *RuleStore, ctx context.Context) error {
			return s.IncrementSucceeded(ctx, "r-1")
		}},
		{"failed", "failed", func(s *RuleStore, ctx context.Context) error {
			return s.IncrementFailed(ctx, "r-1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			s := NewRuleStore(db)

			mock.ExpectExec("UPDATE rules SET " + tt.column).
				WithArgs("r-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := tt.call(s, context.Background()); err != nil {
				t.Fatalf("increment %s: %v", tt.column, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestRuleStats(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRuleStore(db)

	rows := sqlmock.NewRows([]string{"id", "trigger_kind", "triggered", "succeeded", "failed"}).
		AddRow("r-1", "keyword_comment", 10, 8, 2).
		AddRow("r-2", "new_follower", 0, 0, 0)

	mock.ExpectQuery("FROM rules").
		WithArgs("acct-1").
		WillReturnRows(rows)

	stats, err := s.Stats(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats))
	}
	if stats[0].SuccessRate != 0.8 {
		t.Fatalf("unexpected success rate: %v", stats[0].SuccessRate)
	}
	if stats[1].SuccessRate != 0 {
		t.Fatalf("untriggered rule should have zero success rate, got %v", stats[1].SuccessRate)
	}
}
