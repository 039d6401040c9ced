package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/replydeck/helmsman/internal/models"
	"github.com/replydeck/helmsman/internal/platform"
	"github.com/replydeck/helmsman/internal/store"
	"github.com/replydeck/helmsman/pkg/logging"
)

// WebhookEnvelope is the platform's webhook delivery format: one delivery can
// batch entries for several connected accounts.
type WebhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups events for one platform account.
type WebhookEntry struct {
	PlatformUserID string         `json:"id"`
	Time           int64          `json:"time"`
	Events         []WebhookEvent `json:"events"`
}

// WebhookEvent is a single notification inside an entry.
type WebhookEvent struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // comment, message, mention, follow
	Text string `json:"text"`
	From struct {
		Username string `json:"username"`
	} `json:"from"`
	Timestamp int64 `json:"timestamp"`
}

// HandleWebhookVerify answers the platform's subscription handshake by
// echoing hub.challenge when the verify token matches.
func HandleWebhookVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token != deps.VerifyToken {
		deps.Metrics.SecurityEvents.WithLabelValues("bad_verify_token").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}

// HandleWebhook ingests one webhook delivery. The signature is verified over
// the raw body before any JSON parsing. Only signature failures return
// non-200: everything else is acknowledged so the sender does not retry.
func HandleWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		deps.Logger.WithError(err).Warn("Failed to read webhook body")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	signature := c.GetHeader(platform.SignatureHeader)
	if !platform.VerifySignature(body, signature, deps.WebhookSecret) {
		deps.Metrics.SecurityEvents.WithLabelValues("bad_signature").Inc()
		deps.Logger.WithFields(logging.Fields{
			"client_ip": c.ClientIP(),
			"platform":  c.Param("platform"),
		}).Warn("Webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var envelope WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		deps.Logger.WithError(err).Warn("Malformed webhook payload")
		deps.Metrics.WebhooksReceived.WithLabelValues("unknown", "malformed").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	accepted := 0
	for _, entry := range envelope.Entry {
		accepted += processEntry(c.Request.Context(), entry)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received", "accepted": accepted})
}

// processEntry normalizes and enqueues one entry's events, returning how many
// were accepted into the pipeline.
func processEntry(ctx context.Context, entry WebhookEntry) int {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	account, err := deps.Accounts.GetByPlatformUserID(lookupCtx, entry.PlatformUserID)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			deps.Logger.WithError(err).WithField("platform_user_id", entry.PlatformUserID).
				Error("Account lookup failed")
		}
		return 0
	}

	accepted := 0
	for _, raw := range entry.Events {
		kind, ok := eventKind(raw.Kind)
		if !ok {
			deps.Metrics.WebhooksReceived.WithLabelValues(raw.Kind, "unknown_kind").Inc()
			continue
		}
		if raw.ID == "" {
			deps.Metrics.WebhooksReceived.WithLabelValues(raw.Kind, "missing_id").Inc()
			continue
		}

		first, err := deps.Dedup.FirstSeen(lookupCtx, account.ID, raw.ID)
		if err != nil {
			deps.Logger.WithError(err).WithField("event_id", raw.ID).Error("Dedup check failed")
			continue
		}
		if !first {
			deps.Metrics.WebhooksReceived.WithLabelValues(raw.Kind, "duplicate").Inc()
			continue
		}

		ev := models.Event{
			ID:         raw.ID,
			AccountID:  account.ID,
			Kind:       kind,
			Text:       raw.Text,
			Actor:      raw.From.Username,
			ReceivedAt: time.Now(),
		}
		if !deps.Pipeline.Enqueue(ev) {
			// Let the sender's redelivery through next time.
			if err := deps.Dedup.Forget(lookupCtx, account.ID, raw.ID); err != nil {
				deps.Logger.WithError(err).WithField("event_id", raw.ID).Warn("Failed to unmark dropped event")
			}
			continue
		}
		deps.Metrics.WebhooksReceived.WithLabelValues(raw.Kind, "accepted").Inc()
		accepted++
	}
	return accepted
}

// eventKind maps the wire kind to the closed internal enum. Unknown kinds are
// rejected at the boundary instead of propagating downstream.
func eventKind(kind string) (models.EventKind, bool) {
	switch kind {
	case "comment":
		return models.EventComment, true
	case "message":
		return models.EventMessage, true
	case "mention":
		return models.EventMention, true
	case "follow":
		return models.EventFollow, true
	default:
		return "", false
	}
}
