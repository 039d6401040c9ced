// Package rules implements the matching engine: pure selection of the single
// rule an inbound event should trigger, and message template rendering.
// No I/O, no mutation.
package rules

import (
	"strings"

	"github.com/replydeck/helmsman/internal/models"
)

const tokenCutset = ".,!?;:'\"()[]{}<>"

// Match returns the first enabled rule that claims the event, or nil. Rules
// must already be ordered by priority ascending then creation time ascending;
// the store query guarantees that. First match wins: overlapping keyword sets
// never produce duplicate sends.
func Match(ev models.Event, ruleSet []models.Rule) *models.Rule {
	for i := range ruleSet {
		rule := &ruleSet[i]
		if !rule.Enabled {
			continue
		}
		if !kindCompatible(rule.TriggerKind, ev.Kind) {
			continue
		}
		if rule.TriggerKind == models.TriggerNewFollower {
			// Follow events carry no text; the event itself is the trigger.
			return rule
		}
		if keywordMatch(rule, ev.Text) {
			return rule
		}
	}
	return nil
}

// kindCompatible reports whether a rule's trigger kind can claim an event of
// the given kind. Scheduled rules and unknown kinds never match inbound
// events. A mention is treated as a comment naming the account.
func kindCompatible(trigger models.TriggerKind, kind models.EventKind) bool {
	switch trigger {
	case models.TriggerKeywordComment:
		return kind == models.EventComment || kind == models.EventMention
	case models.TriggerKeywordDM:
		return kind == models.EventMessage
	case models.TriggerNewFollower:
		return kind == models.EventFollow
	default:
		return false
	}
}

func keywordMatch(rule *models.Rule, text string) bool {
	if len(rule.Keywords) == 0 || text == "" {
		return false
	}

	normText := text
	if !rule.CaseSensitive {
		normText = strings.ToLower(normText)
	}

	for _, keyword := range rule.Keywords {
		if keyword == "" {
			continue
		}
		normKeyword := keyword
		if !rule.CaseSensitive {
			normKeyword = strings.ToLower(normKeyword)
		}

		switch rule.MatchMode {
		case models.MatchExact:
			if containsToken(normText, normKeyword) {
				return true
			}
		case models.MatchContains:
			if strings.Contains(normText, normKeyword) {
				return true
			}
		}
	}
	return false
}

// containsToken reports whether any whitespace-delimited token of text,
// stripped of surrounding punctuation, equals the keyword.
func containsToken(text, keyword string) bool {
	for _, token := range strings.Fields(text) {
		if strings.Trim(token, tokenCutset) == keyword {
			return true
		}
	}
	return false
}
