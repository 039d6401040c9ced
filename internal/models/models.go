// Package models defines the core records the engine operates on: connected
// accounts, automation rules, normalized inbound events, and dispatch outcomes.
package models

import "time"

// AccountStatus is the connection status of a platform account.
type AccountStatus string

const (
	AccountConnected AccountStatus = "connected"
	AccountExpired   AccountStatus = "expired"
	AccountRevoked   AccountStatus = "revoked"
)

// Account represents a connected external social identity. Token fields hold
// encrypted values; only the credential vault sees plaintext.
type Account struct {
	ID             string        `json:"id" db:"id"`
	UserID         string        `json:"user_id" db:"user_id"`
	PlatformUserID string        `json:"platform_user_id" db:"platform_user_id"`
	AccessToken    string        `json:"-" db:"access_token"`
	RefreshToken   string        `json:"-" db:"refresh_token"`
	TokenExpiresAt time.Time     `json:"token_expires_at" db:"token_expires_at"`
	Status         AccountStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// TriggerKind is the closed set of rule trigger types. Unknown kinds coming
// from storage are treated as never-matching, not as errors.
type TriggerKind string

const (
	TriggerKeywordComment TriggerKind = "keyword_comment"
	TriggerKeywordDM      TriggerKind = "keyword_dm"
	TriggerNewFollower    TriggerKind = "new_follower"
	TriggerScheduled      TriggerKind = "scheduled"
)

// MatchMode selects how rule keywords are compared against event text.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
)

// Rule is a user-defined trigger→action mapping for one account.
type Rule struct {
	ID            string      `json:"id" db:"id"`
	AccountID     string      `json:"account_id" db:"account_id"`
	TriggerKind   TriggerKind `json:"trigger_kind" db:"trigger_kind"`
	Keywords      []string    `json:"keywords" db:"keywords"`
	CaseSensitive bool        `json:"case_sensitive" db:"case_sensitive"`
	MatchMode     MatchMode   `json:"match_mode" db:"match_mode"`
	Template      string      `json:"template" db:"template"`
	Priority      int         `json:"priority" db:"priority"`
	Enabled       bool        `json:"enabled" db:"enabled"`
	Triggered     int64       `json:"triggered" db:"triggered"`
	Succeeded     int64       `json:"succeeded" db:"succeeded"`
	Failed        int64       `json:"failed" db:"failed"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// EventKind classifies a normalized inbound platform notification.
type EventKind string

const (
	EventComment EventKind = "comment"
	EventMessage EventKind = "message"
	EventMention EventKind = "mention"
	EventFollow  EventKind = "follow"
)

// Event is the ephemeral, normalized representation of one webhook entry.
// ID is the platform-provided delivery ID and drives deduplication together
// with AccountID.
type Event struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text"`
	Actor      string    `json:"actor"`
	ReceivedAt time.Time `json:"received_at"`
}

// Outcome is the terminal result of a dispatch attempt.
type Outcome string

const (
	OutcomeSent          Outcome = "sent"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeNoMatch       Outcome = "no_match"
)

// DispatchOutcome is an append-only activity log entry. Never mutated after
// creation.
type DispatchOutcome struct {
	EventID        string    `json:"event_id" db:"event_id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	RuleID         string    `json:"rule_id,omitempty" db:"rule_id"`
	Outcome        Outcome   `json:"outcome" db:"outcome"`
	UpstreamStatus int       `json:"upstream_status,omitempty" db:"upstream_status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// RuleStats is the per-rule counter view served to the dashboard.
type RuleStats struct {
	RuleID      string      `json:"rule_id"`
	TriggerKind TriggerKind `json:"trigger_kind"`
	Triggered   int64       `json:"triggered"`
	Succeeded   int64       `json:"succeeded"`
	Failed      int64       `json:"failed"`
	SuccessRate float64     `json:"success_rate"`
}
