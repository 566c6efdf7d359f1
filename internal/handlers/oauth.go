package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/todomaster/internal/auth"
	"github.com/charlesng35/todomaster/internal/auth/providers"
	"github.com/charlesng35/todomaster/internal/security"
	"github.com/charlesng35/todomaster/internal/services"
	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/logger"
	"github.com/charlesng35/todomaster/pkg/metrics"
	"github.com/charlesng35/todomaster/pkg/response"
)

const (
	// OAuthSessionCookie carries the id of the pending server-side OAuth state.
	OAuthSessionCookie = "todomaster_oauth_session"

	defaultFrontendURL = "http://localhost:3001"
	oauthFailedMessage = "Authentication failed"
	oauthCSRFMessage   = "Invalid state parameter"
)

// OAuthHandlerConfig controls where federated logins land.
type OAuthHandlerConfig struct {
	FrontendURL  string
	SecureCookie bool
}

// OAuthHandler drives the redirect, callback and token refresh steps of federated login.
type OAuthHandler struct {
	registry *providers.Registry
	states   *iauth.StateStore
	svc      *services.OAuthService
	jwt      *iauth.JWTService
	events   services.EventEmitter
	cfg      OAuthHandlerConfig
	log      *zap.Logger
}

func NewOAuthHandler(registry *providers.Registry, states *iauth.StateStore, svc *services.OAuthService, jwt *iauth.JWTService, events services.EventEmitter, cfg OAuthHandlerConfig) *OAuthHandler {
	cfg.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = defaultFrontendURL
	}
	return &OAuthHandler{
		registry: registry,
		states:   states,
		svc:      svc,
		jwt:      jwt,
		events:   events,
		cfg:      cfg,
		log:      logger.WithModule("oauth"),
	}
}

// GET /auth/:provider
func (h *OAuthHandler) Begin(c *gin.Context) {
	provider, err := h.registry.Get(c.Param("provider"))
	if err != nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	sessionID, pending, err := h.states.Issue(requestContext(c), provider.Name())
	if err != nil {
		h.log.Error("issue oauth state", zap.String("provider", provider.Name()), zap.Error(err))
		response.Error(c, apperrors.ErrServiceUnavailable)
		return
	}

	h.setSessionCookie(c, sessionID, int(h.states.TTL()/time.Second))
	c.Redirect(http.StatusFound, provider.AuthCodeURL(providers.AuthRequest{
		State:        pending.State,
		Nonce:        pending.Nonce,
		PKCEVerifier: pending.PKCEVerifier,
	}))
}

// GET /auth/:provider/callback
func (h *OAuthHandler) Callback(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	ctx := requestContext(c)

	sessionID, _ := c.Cookie(OAuthSessionCookie)
	h.setSessionCookie(c, "", -1)

	received := c.Query("state")
	pending, err := h.states.Consume(ctx, sessionID, received)
	if err == nil && pending.Provider != name {
		err = iauth.ErrStateMismatch
	}
	if err != nil {
		if errors.Is(err, iauth.ErrStateMissing) || errors.Is(err, iauth.ErrStateMismatch) {
			h.emit(c, security.EventCSRFAttempt, map[string]any{
				"provider": name,
				"expected": pending.State,
				"received": received,
				"reason":   err.Error(),
			})
			h.finish(c, name, "csrf", "", oauthCSRFMessage)
			return
		}
		h.log.Error("consume oauth state", zap.String("provider", name), zap.Error(err))
		h.finish(c, name, "error", "", oauthFailedMessage)
		return
	}

	if providerErr := c.Query("error"); providerErr != "" {
		h.log.Warn("provider rejected authorization",
			zap.String("provider", name),
			zap.Error(fmt.Errorf("%w: %s", providers.ErrAuthorizationDenied, providerErr)),
			zap.String("description", c.Query("error_description")),
		)
		h.finish(c, name, "denied", "", oauthFailedMessage)
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		h.finish(c, name, "error", "", oauthFailedMessage)
		return
	}

	provider, err := h.registry.Get(name)
	if err != nil {
		h.finish(c, name, "error", "", oauthFailedMessage)
		return
	}

	identity, token, err := provider.Exchange(ctx, providers.ExchangeRequest{
		Code:          code,
		PKCEVerifier:  pending.PKCEVerifier,
		ExpectedNonce: pending.Nonce,
	})
	if err != nil {
		if errors.Is(err, providers.ErrEmailMissing) {
			h.emit(c, security.EventOAuthSuspicious, map[string]any{
				"provider": name,
				"reason":   "email_missing",
			})
		}
		h.log.Warn("oauth code exchange failed", zap.String("provider", name), zap.Error(err))
		h.finish(c, name, "error", "", oauthFailedMessage)
		return
	}

	login, err := h.svc.CompleteLogin(ctx, identity, token)
	if err != nil {
		if reason, suspicious := suspiciousReason(err); suspicious {
			h.emitFor(c, security.EventOAuthSuspicious, identity.Email, map[string]any{
				"provider":   name,
				"reason":     reason,
				"subject_id": identity.Subject,
			})
		}
		h.log.Warn("oauth account resolution failed", zap.String("provider", name), zap.Error(err))
		h.finish(c, name, "error", "", oauthFailedMessage)
		return
	}

	h.log.Info("oauth login",
		zap.String("provider", name),
		zap.String("user_id", login.User.ID),
		zap.String("resolution", string(login.Resolution)),
	)
	h.finish(c, name, "success", login.Token, "")
}

// POST /auth/:provider/refresh
func (h *OAuthHandler) Refresh(c *gin.Context) {
	user, ok := authenticatedUser(c)
	if !ok {
		return
	}

	result, err := h.svc.Refresh(requestContext(c), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GET /auth/:provider/success
func (h *OAuthHandler) Success(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, apperrors.ErrAuthenticationRequired)
		return
	}

	userID, err := h.jwt.Verify(token)
	if err != nil {
		if errors.Is(err, iauth.ErrTokenExpired) {
			response.Error(c, apperrors.ErrTokenExpired)
			return
		}
		response.Error(c, apperrors.ErrInvalidToken)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Authentication successful",
		"token":   token,
		"user_id": userID,
	})
}

func (h *OAuthHandler) finish(c *gin.Context, provider, result, token, message string) {
	metrics.OAuthCallbacks.WithLabelValues(provider, result).Inc()

	target, err := url.Parse(h.cfg.FrontendURL + "/auth/" + url.PathEscape(provider) + "/callback")
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	q := target.Query()
	if token != "" {
		q.Set("token", token)
	} else {
		q.Set("error", message)
	}
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func (h *OAuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(OAuthSessionCookie, value, maxAge, "/auth", "", h.cfg.SecureCookie, true)
}

func (h *OAuthHandler) emit(c *gin.Context, eventType security.EventType, details map[string]any) {
	h.emitFor(c, eventType, "", details)
}

func (h *OAuthHandler) emitFor(c *gin.Context, eventType security.EventType, email string, details map[string]any) {
	if h.events == nil {
		return
	}
	meta := requestMeta(c)
	h.events.Emit(security.Event{
		Type:      eventType,
		IP:        meta.IPAddress,
		UserAgent: meta.UserAgent,
		Email:     email,
		Details:   details,
	})
}

func suspiciousReason(err error) (string, bool) {
	switch {
	case errors.Is(err, services.ErrIdentityConflict):
		return "identity_conflict", true
	case errors.Is(err, services.ErrEmailNotVerified):
		return "email_not_verified", true
	case errors.Is(err, services.ErrIdentityEmailMissing):
		return "email_missing", true
	default:
		return "", false
	}
}
