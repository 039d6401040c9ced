// Package vault owns platform credentials: encrypted-at-rest storage and
// transparent refresh-on-expiry. Plaintext tokens are returned only to the
// immediate caller and never logged.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/replydeck/helmsman/internal/models"
	"github.com/replydeck/helmsman/internal/platform"
	"github.com/replydeck/helmsman/internal/store"
	"github.com/replydeck/helmsman/pkg/clients"
	"github.com/replydeck/helmsman/pkg/crypto"
	"github.com/replydeck/helmsman/pkg/logging"
)

// ErrAccountNotConnected is returned when the account is expired, revoked, or
// its token can no longer be refreshed. Dispatches short-circuit on it without
// calling the platform.
var ErrAccountNotConnected = errors.New("account not connected")

// TokenRefresher exchanges a refresh token for fresh credentials. Satisfied by
// the platform client.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*platform.TokenResponse, error)
}

// Config configures the vault.
type Config struct {
	Accounts  *store.AccountStore
	Encryptor *crypto.FieldEncryptor
	Refresher TokenRefresher
	// Breaker guards refresh calls to the platform OAuth endpoint.
	Breaker *clients.CircuitBreaker
	Logger  logging.Logger
	// RefreshSkew triggers a refresh when the token expires within this
	// window. Default: 5 minutes.
	RefreshSkew time.Duration
	// RefreshTimeout bounds a single refresh call. Default: 10 seconds.
	RefreshTimeout time.Duration
}

// Vault stores and serves decrypted access tokens.
type Vault struct {
	accounts       *store.AccountStore
	enc            *crypto.FieldEncryptor
	refresher      TokenRefresher
	breaker        *clients.CircuitBreaker
	logger         logging.Logger
	refreshSkew    time.Duration
	refreshTimeout time.Duration
	group          singleflight.Group
}

// New creates a vault.
func New(cfg Config) *Vault {
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = 5 * time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	return &Vault{
		accounts:       cfg.Accounts,
		enc:            cfg.Encryptor,
		refresher:      cfg.Refresher,
		breaker:        cfg.Breaker,
		logger:         cfg.Logger,
		refreshSkew:    cfg.RefreshSkew,
		refreshTimeout: cfg.RefreshTimeout,
	}
}

// Token returns the current plaintext access token for an account, refreshing
// it first when it is expired or about to expire and a refresh token exists.
func (v *Vault) Token(ctx context.Context, accountID string) (string, error) {
	account, err := v.accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.Status != models.AccountConnected {
		return "", fmt.Errorf("account %s is %s: %w", accountID, account.Status, ErrAccountNotConnected)
	}

	expiresIn := time.Until(account.TokenExpiresAt)
	if expiresIn > v.refreshSkew || account.RefreshToken == "" {
		if expiresIn <= 0 {
			// Expired with no refresh token: nothing we can do.
			return "", fmt.Errorf("token expired for account %s: %w", accountID, ErrAccountNotConnected)
		}
		return v.enc.Decrypt(account.AccessToken)
	}

	// Collapse concurrent refreshes for the same account.
	token, err, _ := v.group.Do(accountID, func() (interface{}, error) {
		return v.refresh(ctx, account)
	})
	if err != nil {
		// Still-valid token: serve it and let a later call retry the refresh.
		if expiresIn > 0 && !errors.Is(err, ErrAccountNotConnected) {
			v.logger.WithError(err).WithField("account_id", accountID).
				Warn("Token refresh failed; serving current token")
			return v.enc.Decrypt(account.AccessToken)
		}
		return "", err
	}
	return token.(string), nil
}

// refresh exchanges the account's refresh token through the circuit breaker
// and persists the re-encrypted result.
func (v *Vault) refresh(ctx context.Context, account *models.Account) (string, error) {
	refreshPlain, err := v.enc.Decrypt(account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	var response *platform.TokenResponse
	callCtx, cancel := context.WithTimeout(ctx, v.refreshTimeout)
	defer cancel()

	err = v.breaker.Call(callCtx, func() error {
		var callErr error
		response, callErr = v.refresher.RefreshToken(callCtx, refreshPlain)
		return callErr
	})
	if err != nil {
		if platform.IsAuthError(err) {
			// The platform rejected the refresh token; the user must
			// reconnect the account.
			if statusErr := v.accounts.UpdateStatus(ctx, account.ID, models.AccountExpired); statusErr != nil {
				v.logger.WithError(statusErr).WithField("account_id", account.ID).
					Error("Failed to mark account expired")
			}
			return "", fmt.Errorf("refresh rejected: %w", ErrAccountNotConnected)
		}
		return "", fmt.Errorf("refresh token: %w", err)
	}

	newRefresh := response.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshPlain
	}
	expiresAt := time.Now().Add(time.Duration(response.ExpiresIn) * time.Second)

	if err := v.Store(ctx, account.ID, response.AccessToken, newRefresh, expiresAt); err != nil {
		return "", err
	}

	v.logger.WithFields(logging.Fields{
		"account_id": account.ID,
		"expires_at": expiresAt,
	}).Info("Access token refreshed")

	return response.AccessToken, nil
}

// Store encrypts and persists token material for an account.
func (v *Vault) Store(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt time.Time) error {
	encAccess, err := v.enc.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh := ""
	if refreshToken != "" {
		if encRefresh, err = v.enc.Encrypt(refreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return v.accounts.UpdateTokens(ctx, accountID, encAccess, encRefresh, expiresAt)
}

// Disconnect revokes an account and wipes its stored tokens.
func (v *Vault) Disconnect(ctx context.Context, accountID string) error {
	return v.accounts.ClearTokens(ctx, accountID)
}
