package sso

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dwellos/ssobridge/pkg/auth"
	"github.com/dwellos/ssobridge/pkg/httputil"
	"github.com/dwellos/ssobridge/pkg/middleware"
	"github.com/dwellos/ssobridge/pkg/observability"
)

// Handlers exposes the SSO flow as a single routed resource dispatched on
// the ?action= query parameter.
type Handlers struct {
	registry    *Registry
	initiator   *Initiator
	callbacks   *CallbackProcessor
	provisioner *Provisioner
	metrics     *observability.Metrics
}

// HandlerOptions configures the SSO handlers
type HandlerOptions struct {
	// EntityID identifies this service provider in SAML AuthnRequests
	EntityID string
	// DefaultRedirectURL is used when the login request supplies none
	DefaultRedirectURL string
	// Strategy options forwarded to the protocol implementations
	Strategy StrategyOptions
	// Metrics is optional; when nil no business metrics are recorded
	Metrics *observability.Metrics
}

// NewHandlers wires the registry, strategies, initiator, callback processor,
// and provisioner over one injected database handle
func NewHandlers(db *sql.DB, issuer *auth.SessionIssuer, opts HandlerOptions) *Handlers {
	if opts.Strategy.EntityID == "" {
		opts.Strategy.EntityID = opts.EntityID
	}

	registry := NewRegistry(db)
	strategies := NewStrategySet(opts.Strategy)

	return &Handlers{
		registry:    registry,
		initiator:   NewInitiator(registry, strategies, opts.DefaultRedirectURL),
		callbacks:   NewCallbackProcessor(registry, strategies, opts.DefaultRedirectURL),
		provisioner: NewProvisioner(db, issuer),
		metrics:     opts.Metrics,
	}
}

// RegisterRoutes mounts the SSO resource on the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/sso", h.Dispatch).Methods(http.MethodGet, http.MethodPost)
}

// Dispatch routes a request to its action handler
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	switch action {
	case "providers":
		h.withMethod(w, r, http.MethodGet, h.listProviders)
	case "check":
		h.withMethod(w, r, http.MethodGet, h.checkDomain)
	case "login":
		h.withMethod(w, r, http.MethodPost, h.initiateLogin)
	case "callback":
		h.withMethod(w, r, http.MethodPost, h.handleCallback)
	case "create-provider":
		h.withMethod(w, r, http.MethodPost, h.createProvider)
	case "deactivate-provider":
		h.withMethod(w, r, http.MethodPost, h.deactivateProvider)
	default:
		httputil.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown action")
	}
}

func (h *Handlers) withMethod(w http.ResponseWriter, r *http.Request, method string, handler http.HandlerFunc) {
	if r.Method != method {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "VALIDATION_ERROR", "method not allowed for this action")
		return
	}
	handler(w, r)
}

// requireAdmin checks for a verified bearer token with the admin role
func (h *Handlers) requireAdmin(r *http.Request) error {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || !claims.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}

// listProviders handles GET /api/sso?action=providers (admin)
func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	providers, err := h.registry.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if providers == nil {
		providers = []*ProviderSummary{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"success":   true,
		"providers": providers,
	})
}

// providerPublic is the provider subset exposed to anonymous domain checks
type providerPublic struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Type   ProviderType `json:"type"`
	Domain string       `json:"domain"`
	SSOURL string       `json:"ssoUrl"`
}

// checkDomain handles GET /api/sso?action=check&domain=<domain>
func (h *Handlers) checkDomain(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if NormalizeDomain(domain) == "" {
		h.writeError(w, r, fmt.Errorf("domain is required: %w", ErrValidation))
		return
	}

	provider, err := h.registry.FindActiveByDomain(r.Context(), domain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if provider == nil {
		httputil.WriteSuccess(w, map[string]interface{}{
			"success": true,
			"hasSso":  false,
		})
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"success": true,
		"hasSso":  true,
		"provider": providerPublic{
			ID:     provider.ID,
			Name:   provider.Name,
			Type:   provider.Type,
			Domain: provider.Domain,
			SSOURL: provider.SSOURL,
		},
	})
}

type loginRequest struct {
	Domain      string `json:"domain"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type loginResponse struct {
	Success bool `json:"success"`
	*LoginInstruction
}

// initiateLogin handles POST /api/sso?action=login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("%v: %w", err, ErrValidation))
		return
	}

	instruction, err := h.initiator.InitiateLogin(r.Context(), req.Domain, req.RedirectURL)
	if err != nil {
		h.countLogin("unknown", "error")
		h.writeError(w, r, err)
		return
	}

	h.countLogin(string(instruction.Type), "success")
	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"provider_id":   instruction.ProviderID,
		"provider_type": instruction.Type,
	}).Info("sso login initiated")

	httputil.WriteSuccess(w, loginResponse{Success: true, LoginInstruction: instruction})
}

// handleCallback handles POST /api/sso?action=callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("%v: %w", err, ErrValidation))
		return
	}

	logger := observability.FromContext(r.Context()).WithField("provider_id", req.ProviderID)

	start := time.Now()
	provider, identity, err := h.callbacks.Process(r.Context(), &req)
	if err != nil {
		h.countCallback("unknown", "error")
		logger.WithError(err).Warn("sso callback rejected")
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ExchangeDuration.WithLabelValues(string(provider.Type)).Observe(time.Since(start).Seconds())
	}

	result, err := h.provisioner.ResolveAndIssueSession(r.Context(), provider, identity)
	if err != nil {
		h.countCallback(string(provider.Type), "error")
		logger.WithError(err).Warn("sso session resolution failed")
		h.writeError(w, r, err)
		return
	}

	h.countCallback(string(provider.Type), "success")
	if h.metrics != nil {
		h.metrics.SessionsIssuedTotal.Inc()
		if result.Provisioned {
			h.metrics.UsersProvisionedTotal.WithLabelValues(string(provider.Type)).Inc()
		}
	}
	logger.WithFields(map[string]interface{}{
		"user_id":     result.User.ID,
		"provisioned": result.Provisioned,
	}).Info("sso login completed")

	httputil.WriteSuccess(w, map[string]interface{}{
		"success": true,
		"user":    result.User,
		"token":   result.Token,
	})
}

type createProviderRequest struct {
	Name         string       `json:"name"`
	Type         ProviderType `json:"type"`
	Domain       string       `json:"domain"`
	SSOURL       string       `json:"ssoUrl"`
	ClientID     string       `json:"clientId,omitempty"`
	ClientSecret string       `json:"clientSecret,omitempty"`
	Certificate  string       `json:"certificate,omitempty"`
	TokenURL     string       `json:"tokenUrl,omitempty"`
	UserInfoURL  string       `json:"userInfoUrl,omitempty"`
	IssuerURL    string       `json:"issuerUrl,omitempty"`
}

// createProvider handles POST /api/sso?action=create-provider (admin)
func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	var req createProviderRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("%v: %w", err, ErrValidation))
		return
	}

	if req.Name == "" || req.Type == "" || req.Domain == "" || req.SSOURL == "" {
		h.writeError(w, r, fmt.Errorf("name, type, domain, and ssoUrl are required: %w", ErrValidation))
		return
	}
	if !req.Type.Valid() {
		h.writeError(w, r, fmt.Errorf("type must be one of SAML, OAUTH2, OIDC: %w", ErrValidation))
		return
	}

	provider := &Provider{
		Name:         req.Name,
		Type:         req.Type,
		Domain:       req.Domain,
		SSOURL:       req.SSOURL,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Certificate:  req.Certificate,
		TokenURL:     req.TokenURL,
		UserInfoURL:  req.UserInfoURL,
		IssuerURL:    req.IssuerURL,
	}

	if err := h.registry.Create(r.Context(), provider); err != nil {
		h.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"provider_id":   provider.ID,
		"provider_type": provider.Type,
		"domain":        provider.Domain,
	}).Info("sso provider created")

	httputil.WriteCreated(w, map[string]interface{}{
		"success":  true,
		"provider": provider,
	})
}

type deactivateProviderRequest struct {
	ProviderID string `json:"providerId"`
}

// deactivateProvider handles POST /api/sso?action=deactivate-provider (admin)
func (h *Handlers) deactivateProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r); err != nil {
		h.writeError(w, r, err)
		return
	}

	var req deactivateProviderRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		h.writeError(w, r, fmt.Errorf("%v: %w", err, ErrValidation))
		return
	}
	if req.ProviderID == "" {
		h.writeError(w, r, fmt.Errorf("providerId is required: %w", ErrValidation))
		return
	}

	if err := h.registry.Deactivate(r.Context(), req.ProviderID); err != nil {
		h.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).
		WithField("provider_id", req.ProviderID).
		Info("sso provider deactivated")

	httputil.WriteSuccess(w, map[string]interface{}{"success": true})
}

func (h *Handlers) countLogin(providerType, result string) {
	if h.metrics != nil {
		h.metrics.LoginInitiationsTotal.WithLabelValues(providerType, result).Inc()
	}
}

func (h *Handlers) countCallback(providerType, result string) {
	if h.metrics != nil {
		h.metrics.CallbacksTotal.WithLabelValues(providerType, result).Inc()
	}
}

// writeError maps a flow error onto the HTTP boundary. Upstream failures are
// reported generically so provider internals never leak to the browser.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	code := ErrorCode(err)

	message := err.Error()
	switch {
	case errors.Is(err, ErrNotConfigured):
		message = "SSO not configured for this domain"
	case errors.Is(err, ErrUpstream):
		message = "authentication failed"
	case errors.Is(err, ErrUnauthorized):
		message = "authentication required"
	case status >= http.StatusInternalServerError:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		message = "internal error"
	}

	httputil.WriteError(w, status, code, message)
}
