package rules

import (
	"testing"
	"time"

	"github.com/replydeck/helmsman/internal/models"
)

func keywordRule(id string, kind models.TriggerKind, priority int, keywords ...string) models.Rule {
	return models.Rule{
		ID:          id,
		AccountID:   "acct-1",
		TriggerKind: kind,
		Keywords:    keywords,
		MatchMode:   models.MatchContains,
		Template:    "hello {name}",
		Priority:    priority,
		Enabled:     true,
		CreatedAt:   time.Now(),
	}
}

func commentEvent(text string) models.Event {
	return models.Event{
		ID:        "ev-1",
		AccountID: "acct-1",
		Kind:      models.EventComment,
		Text:      text,
		Actor:     "jane",
	}
}

func TestMatchFirstMatchWins(t *testing.T) {
	ruleSet := []models.Rule{
		keywordRule("r-low", models.TriggerKeywordComment, 1, "price"),
		keywordRule("r-high", models.TriggerKeywordComment, 2, "price", "cost"),
	}

	matched := Match(commentEvent("what is the price?"), ruleSet)
	if matched == nil {
		t.Fatal("expected a match")
	}
	if matched.ID != "r-low" {
		t.Fatalf("expected first rule by priority, got %s", matched.ID)
	}
}

func TestMatchCaseInsensitiveContains(t *testing.T) {
	ruleSet := []models.Rule{
		keywordRule("r-1", models.TriggerKeywordComment, 1, "price"),
	}

	matched := Match(commentEvent("What's the Price?"), ruleSet)
	if matched == nil {
		t.Fatal("expected case-insensitive match")
	}
}

func TestMatchCaseSensitive(t *testing.T) {
	rule := keywordRule("r-1", models.TriggerKeywordComment, 1, "Price")
	rule.CaseSensitive = true

	if Match(commentEvent("what is the price?"), []models.Rule{rule}) != nil {
		t.Fatal("case-sensitive rule should not match lowercase text")
	}
	if Match(commentEvent("what is the Price?"), []models.Rule{rule}) == nil {
		t.Fatal("case-sensitive rule should match exact casing")
	}
}

func TestMatchExactMode(t *testing.T) {
	rule := keywordRule("r-1", models.TriggerKeywordComment, 1, "price")
	rule.MatchMode = models.MatchExact

	if Match(commentEvent("totally priceless"), []models.Rule{rule}) != nil {
		t.Fatal("exact mode should not match inside a longer word")
	}
	if Match(commentEvent("what is the price?"), []models.Rule{rule}) == nil {
		t.Fatal("exact mode should match a whole word with trailing punctuation")
	}
	if Match(commentEvent("  PRICE "), []models.Rule{rule}) == nil {
		t.Fatal("exact mode should fold case")
	}
}

func TestMatchEmptyKeywordsNeverMatch(t *testing.T) {
	rule := keywordRule("r-1", models.TriggerKeywordComment, 1)

	if Match(commentEvent("anything at all"), []models.Rule{rule}) != nil {
		t.Fatal("keyword rule without keywords must never match")
	}
}

func TestMatchKindCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		trigger models.TriggerKind
		event   models.EventKind
		want    bool
	}{
		{"comment_to_comment", models.TriggerKeywordComment, models.EventComment, true},
		{"mention_to_comment_rule", models.TriggerKeywordComment, models.EventMention, true},
		{"message_to_dm_rule", models.TriggerKeywordDM, models.EventMessage, true},
		{"comment_to_dm_rule", models.TriggerKeywordDM, models.EventComment, false},
		{"follow_to_comment_rule", models.TriggerKeywordComment, models.EventFollow, false},
		{"scheduled_never_matches", models.TriggerScheduled, models.EventComment, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := keywordRule("r-1", tt.trigger, 1, "price")
			ev := commentEvent("price")
			ev.Kind = tt.event

			got := Match(ev, []models.Rule{rule}) != nil
			if got != tt.want {
				t.Fatalf("trigger %s vs event %s: got match=%v, want %v", tt.trigger, tt.event, got, tt.want)
			}
		})
	}
}

func TestMatchNewFollowerIgnoresKeywords(t *testing.T) {
	rule := keywordRule("r-follow", models.TriggerNewFollower, 1)

	ev := models.Event{
		ID:        "ev-2",
		AccountID: "acct-1",
		Kind:      models.EventFollow,
		Actor:     "newfan",
	}
	if Match(ev, []models.Rule{rule}) == nil {
		t.Fatal("new follower rule should match follow events without keywords")
	}
}

func TestMatchPunctuationBoundaries(t *testing.T) {
	rule := keywordRule("r-1", models.TriggerKeywordComment, 1, "price")
	rule.MatchMode = models.MatchExact

	if Match(commentEvent("price!!!"), []models.Rule{rule}) == nil {
		t.Fatal("trailing punctuation should not block a token match")
	}
	if Match(commentEvent("(price)"), []models.Rule{rule}) == nil {
		t.Fatal("surrounding brackets should not block a token match")
	}
}

func TestMatchNoRules(t *testing.T) {
	if Match(commentEvent("price"), nil) != nil {
		t.Fatal("empty rule set must not match")
	}
}
