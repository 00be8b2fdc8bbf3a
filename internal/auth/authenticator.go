package auth

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/buehnenplan/syncd/internal/store"
	"github.com/buehnenplan/syncd/internal/syncer"
)

// TokenHeader carries the sync token minted for the scanner app.
const TokenHeader = "X-Sync-Token"

// Permission names checked by the gateway.
const (
	PermScan            = "scan"
	PermInventoryRead   = "inventory.read"
	PermInventoryManage = "inventory.manage"
)

// Denial explains a failed authentication or authorization check. Reason is
// logged server-side only; clients see just the status code.
type Denial struct {
	Status int
	Reason string
}

// Authenticator resolves a request to an active user by combining the
// session cookie with the sync token, then applies scope permission checks.
type Authenticator struct {
	db         *store.DB
	tokens     *Tokens
	cookieName string
	logger     *zap.Logger
}

// NewAuthenticator creates an Authenticator. A nil logger is replaced with a
// no-op logger.
func NewAuthenticator(db *store.DB, tokens *Tokens, cookieName string, logger *zap.Logger) *Authenticator {
	if cookieName == "" {
		cookieName = "session"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{db: db, tokens: tokens, cookieName: cookieName, logger: logger}
}

// Authenticate verifies the sync token and the session and requires both to
// name the same active user.
//
// 401: missing/invalid token, missing/expired session.
// 403: token-session user mismatch, deactivated account.
func (a *Authenticator) Authenticate(r *http.Request) (*store.User, *Denial) {
	raw := r.Header.Get(TokenHeader)
	if raw == "" {
		return nil, a.deny(r, http.StatusUnauthorized, "missing sync token")
	}
	tokenUser, err := a.tokens.Verify(raw)
	if err != nil {
		return nil, a.deny(r, http.StatusUnauthorized, "invalid sync token")
	}

	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, a.deny(r, http.StatusUnauthorized, "missing session")
	}
	user, err := a.db.SessionUser(r.Context(), cookie.Value, time.Now())
	if err != nil {
		a.logger.Error("session lookup failed", zap.Error(err))
		return nil, &Denial{Status: http.StatusInternalServerError, Reason: "session lookup failed"}
	}
	if user == nil {
		return nil, a.deny(r, http.StatusUnauthorized, "unknown or expired session")
	}

	if user.ID != tokenUser {
		return nil, a.deny(r, http.StatusForbidden, "sync token does not match session user")
	}
	if user.Deactivated {
		return nil, a.deny(r, http.StatusForbidden, "account deactivated")
	}
	return user, nil
}

// Authorize applies the scope permission checks: every caller needs the scan
// permission, and the inventory scope additionally needs one of the finer
// inventory permissions.
func (a *Authenticator) Authorize(user *store.User, scope syncer.Scope) *Denial {
	if !user.HasPermission(PermScan) {
		return a.denyScope(user, scope, "missing scan permission")
	}
	if scope == syncer.ScopeInventory &&
		!user.HasPermission(PermInventoryRead) && !user.HasPermission(PermInventoryManage) {
		return a.denyScope(user, scope, "missing inventory permission")
	}
	return nil
}

func (a *Authenticator) deny(r *http.Request, status int, reason string) *Denial {
	a.logger.Warn("sync request denied",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("reason", reason))
	return &Denial{Status: status, Reason: reason}
}

func (a *Authenticator) denyScope(user *store.User, scope syncer.Scope, reason string) *Denial {
	a.logger.Warn("sync request denied",
		zap.String("user", user.ID),
		zap.String("scope", string(scope)),
		zap.String("reason", reason))
	return &Denial{Status: http.StatusForbidden, Reason: reason}
}
