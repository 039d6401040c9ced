package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/replydeck/helmsman/internal/models"
)

// ErrAccountNotFound is returned when no account matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

// AccountStore persists connected platform accounts. Token columns hold
// encrypted values written by the credential vault.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore creates an account store backed by db.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, user_id, platform_user_id, access_token,
	COALESCE(refresh_token, ''), token_expires_at, status, created_at, updated_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.PlatformUserID, &a.AccessToken,
		&a.RefreshToken, &a.TokenExpiresAt, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// Get returns an account by internal ID.
func (s *AccountStore) Get(ctx context.Context, accountID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", accountID)
	return scanAccount(row)
}

// GetByPlatformUserID resolves the platform's own account identifier (as it
// appears in webhook payloads) to the internal account record.
func (s *AccountStore) GetByPlatformUserID(ctx context.Context, platformUserID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE platform_user_id = $1", platformUserID)
	return scanAccount(row)
}

// UpdateTokens stores new (already encrypted) token material and expiry, and
// marks the account connected.
func (s *AccountStore) UpdateTokens(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET access_token = $2, refresh_token = NULLIF($3, ''), token_expires_at = $4,
		    status = $5, updated_at = NOW()
		WHERE id = $1`,
		accountID, accessToken, refreshToken, expiresAt, models.AccountConnected)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return requireRow(result)
}

// UpdateStatus transitions an account's connection status.
func (s *AccountStore) UpdateStatus(ctx context.Context, accountID string, status models.AccountStatus) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1",
		accountID, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(result)
}

// ClearTokens wipes stored token material, used on disconnect.
func (s *AccountStore) ClearTokens(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET access_token = '', refresh_token = NULL, status = $2, updated_at = NOW()
		WHERE id = $1`,
		accountID, models.AccountRevoked)
	if err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
