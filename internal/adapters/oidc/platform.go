package oidc

// Package oidc adapts a hosted OIDC/OAuth2 identity platform to ports.IdentityPlatform.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/jonboulle/clockwork"
	"github.com/youthvoice/portal/internal/adapters/sessionhub"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
)

const (
	defaultUserIDClaim = "sub"
	defaultEmailClaim  = "email || mail"
	defaultRefreshLead = time.Minute
	defaultSessionTTL  = time.Hour

	refreshRetryBase = 5 * time.Second
	refreshRetryMax  = time.Minute
	refreshTimeout   = 30 * time.Second
)

var _ ports.IdentityPlatform = (*Platform)(nil)

// PlatformConfig holds configuration for the OIDC identity platform.
type PlatformConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string

	// RecoverURL receives POST {"email","redirect_to"} to send a recovery email.
	RecoverURL string
	// UserURL receives PUT {"password"} with the user's bearer token.
	UserURL string
	// RevocationURL is the RFC 7009 endpoint; sign-out skips revocation when empty.
	RevocationURL string

	// UserIDClaim and EmailClaim are JMESPath expressions evaluated over token claims.
	UserIDClaim string
	EmailClaim  string

	// RefreshLead is how long before expiry the access token is refreshed.
	RefreshLead time.Duration

	Credentials ports.CredentialStore // optional
	HTTPClient  *http.Client          // optional, defaults to a client with a public-suffix cookie jar
	Clock       clockwork.Clock       // optional
	Logger      *slog.Logger          // optional
}

// Platform implements ports.IdentityPlatform using OIDC discovery and OAuth2 grants.
type Platform struct {
	oauth      *oauth2.Config
	provider   *gooidc.Provider
	verifier   *gooidc.IDTokenVerifier
	recovery   *gooidc.IDTokenVerifier
	httpClient *http.Client

	recoverURL  string
	userURL     string
	revokeURL   string
	userIDClaim string
	emailClaim  string
	refreshLead time.Duration

	creds  ports.CredentialStore
	clock  clockwork.Clock
	logger *slog.Logger
	hub    *sessionhub.Hub

	mu      sync.Mutex
	session *domainauth.Session
	refresh clockwork.Timer
}

// NewPlatform validates cfg and performs OIDC discovery.
func NewPlatform(ctx context.Context, cfg PlatformConfig) (*Platform, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	userIDClaim := firstNonEmpty(cfg.UserIDClaim, defaultUserIDClaim)
	emailClaim := firstNonEmpty(cfg.EmailClaim, defaultEmailClaim)
	for _, expr := range []string{userIDClaim, emailClaim} {
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("invalid claim expression %q: %w", expr, err)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: 30 * time.Second, Jar: jar}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "oidc_platform")

	issuer := strings.TrimSuffix(cfg.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(context.WithValue(ctx, oauth2.HTTPClient, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	refreshLead := cfg.RefreshLead
	if refreshLead <= 0 {
		refreshLead = defaultRefreshLead
	}

	return &Platform{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       strings.Fields(cfg.Scope),
			Endpoint:     op.Endpoint(),
		},
		provider:    op,
		verifier:    op.Verifier(&gooidc.Config{ClientID: cfg.ClientID, Now: clock.Now}),
		recovery:    op.Verifier(&gooidc.Config{SkipClientIDCheck: true, Now: clock.Now}),
		httpClient:  httpClient,
		recoverURL:  cfg.RecoverURL,
		userURL:     cfg.UserURL,
		revokeURL:   cfg.RevocationURL,
		userIDClaim: userIDClaim,
		emailClaim:  emailClaim,
		refreshLead: refreshLead,
		creds:       cfg.Credentials,
		clock:       clock,
		logger:      logger,
		hub:         sessionhub.New(logger),
	}, nil
}

func (p *Platform) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Subscribe restores any persisted session and delivers it as INITIAL_SESSION.
func (p *Platform) Subscribe(ctx context.Context) (<-chan domainauth.Event, error) {
	sess := p.restore(ctx)
	return p.hub.Subscribe(ctx, domainauth.Event{Kind: domainauth.EventInitialSession, Session: sess}), nil
}

// restore returns the live session, else the persisted one (refreshed when expired).
func (p *Platform) restore(ctx context.Context) *domainauth.Session {
	if cur := p.current(); cur != nil {
		return cur
	}
	if p.creds == nil {
		return nil
	}
	stored, err := p.creds.Load(ctx)
	if err != nil {
		p.logger.Warn("load persisted credentials failed", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}
	if stored.Expired(p.clock.Now().Add(p.refreshLead)) {
		refreshed, refreshErr := p.exchangeRefresh(ctx, *stored)
		if refreshErr != nil {
			p.logger.Info("persisted session could not be refreshed", "error", refreshErr)
			p.purge(ctx)
			return nil
		}
		stored = refreshed
		p.persist(ctx, *stored)
	}
	p.install(stored)
	return p.current()
}

// SignInWithPassword performs the OAuth2 resource-owner password grant.
func (p *Platform) SignInWithPassword(ctx context.Context, email, password string) error {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientCtx(ctx), email, password)
	if err != nil {
		if isInvalidGrant(err) {
			return ports.ErrInvalidCredentials
		}
		return fmt.Errorf("password grant: %w", err)
	}
	sess, err := p.sessionFromToken(ctx, tok, nil)
	if err != nil {
		return err
	}
	p.persist(ctx, *sess)
	p.install(sess)
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedIn, Session: p.current()})
	return nil
}

// SignOut revokes the refresh token when configured and always ends the local session.
func (p *Platform) SignOut(ctx context.Context) error {
	sess := p.current()
	var revokeErr error
	if sess != nil && p.revokeURL != "" {
		revokeErr = p.revoke(ctx, *sess)
	}
	p.install(nil)
	p.purge(ctx)
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
	return revokeErr
}

// SendPasswordReset asks the platform to mail a recovery link returning to redirectURL.
func (p *Platform) SendPasswordReset(ctx context.Context, email, redirectURL string) error {
	if p.recoverURL == "" {
		return errors.New("password recovery endpoint is not configured")
	}
	body := map[string]string{"email": email}
	if redirectURL != "" {
		body["redirect_to"] = redirectURL
	}
	return p.doJSON(ctx, http.MethodPost, p.recoverURL, "", body)
}

// GetSession returns a copy of the current session.
func (p *Platform) GetSession(_ context.Context) (*domainauth.Session, error) {
	return p.current(), nil
}

// UpdateUser changes the signed-in user's password.
func (p *Platform) UpdateUser(ctx context.Context, in ports.UserUpdate) error {
	sess := p.current()
	if sess == nil {
		return ports.ErrNoSession
	}
	if p.userURL == "" {
		return errors.New("user endpoint is not configured")
	}
	return p.doJSON(ctx, http.MethodPut, p.userURL, sess.AccessToken, map[string]string{"password": in.Password})
}

// CompleteRecovery verifies a recovery link token and enters the recovery session.
func (p *Platform) CompleteRecovery(ctx context.Context, token string) error {
	idTok, err := p.recovery.Verify(p.clientCtx(ctx), token)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRecoveryLinkInvalid, err)
	}
	var claims map[string]any
	if err := idTok.Claims(&claims); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRecoveryLinkInvalid, err)
	}
	id, err := p.identityFromClaims(claims)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrRecoveryLinkInvalid, err)
	}
	sess := &domainauth.Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   idTok.Expiry,
		Identity:    id,
	}
	p.install(sess)
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventPasswordRecovery, Session: p.current()})
	return nil
}

// RefreshNow exchanges the refresh token immediately. A rejected refresh ends the session.
func (p *Platform) RefreshNow(ctx context.Context) error {
	sess := p.current()
	if sess == nil {
		return ports.ErrNoSession
	}
	refreshed, err := p.exchangeRefresh(ctx, *sess)
	if err != nil {
		if isInvalidGrant(err) {
			p.logger.Info("refresh token rejected; signing out", "user_id", sess.Identity.UserID)
			p.install(nil)
			p.purge(ctx)
			p.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
		}
		return err
	}
	p.persist(ctx, *refreshed)
	p.install(refreshed)
	p.hub.Publish(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: p.current()})
	return nil
}

func (p *Platform) exchangeRefresh(ctx context.Context, sess domainauth.Session) (*domainauth.Session, error) {
	if sess.RefreshToken == "" {
		return nil, errors.New("session has no refresh token")
	}
	src := p.oauth.TokenSource(p.clientCtx(ctx), &oauth2.Token{
		RefreshToken: sess.RefreshToken,
		// Any past instant forces the refresh grant.
		Expiry: time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return p.sessionFromToken(ctx, tok, &sess.Identity)
}

// sessionFromToken builds a session; identity comes from the ID token, then userinfo, then prev.
func (p *Platform) sessionFromToken(ctx context.Context, tok *oauth2.Token, prev *domainauth.Identity) (*domainauth.Session, error) {
	claims, err := p.tokenClaims(ctx, tok)
	if err != nil && prev == nil {
		return nil, err
	}
	var id domainauth.Identity
	if claims != nil {
		id, err = p.identityFromClaims(claims)
		if err != nil && prev == nil {
			return nil, err
		}
	}
	if id.UserID == "" && prev != nil {
		id = *prev
	}

	var expiresAt time.Time
	switch ttl := expiresIn(tok); {
	case ttl > 0:
		expiresAt = p.clock.Now().Add(ttl)
	case !tok.Expiry.IsZero():
		expiresAt = tok.Expiry
	default:
		expiresAt = p.clock.Now().Add(defaultSessionTTL)
	}
	return &domainauth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    expiresAt,
		Identity:     id,
	}, nil
}

// expiresIn reads the token lifetime from the response so expiry follows the platform clock.
func expiresIn(tok *oauth2.Token) time.Duration {
	secs := tok.ExpiresIn
	if secs <= 0 {
		switch v := tok.Extra("expires_in").(type) {
		case float64:
			secs = int64(v)
		case int64:
			secs = v
		case json.Number:
			secs, _ = v.Int64()
		case string:
			secs, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (p *Platform) tokenClaims(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	var claims map[string]any
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		idTok, err := p.verifier.Verify(p.clientCtx(ctx), raw)
		if err != nil {
			return nil, fmt.Errorf("verify id_token: %w", err)
		}
		if err := idTok.Claims(&claims); err != nil {
			return nil, fmt.Errorf("parse id_token claims: %w", err)
		}
		return claims, nil
	}
	ui, err := p.provider.UserInfo(p.clientCtx(ctx), oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	if err := ui.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return claims, nil
}

func (p *Platform) identityFromClaims(claims map[string]any) (domainauth.Identity, error) {
	userID, err := searchString(p.userIDClaim, claims)
	if err != nil {
		return domainauth.Identity{}, err
	}
	if userID == "" {
		return domainauth.Identity{}, fmt.Errorf("claim %q is empty", p.userIDClaim)
	}
	email, err := searchString(p.emailClaim, claims)
	if err != nil {
		return domainauth.Identity{}, err
	}
	return domainauth.Identity{UserID: userID, Email: email}, nil
}

func searchString(expr string, data any) (string, error) {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}
	s, _ := v.(string)
	return strings.TrimSpace(s), nil
}

// install replaces the current session and (re)schedules the refresh timer.
func (p *Platform) install(sess *domainauth.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installLocked(sess)
}

func (p *Platform) installLocked(sess *domainauth.Session) {
	if p.refresh != nil {
		p.refresh.Stop()
		p.refresh = nil
	}
	if sess == nil {
		p.session = nil
		return
	}
	cp := *sess
	p.session = &cp
	if cp.RefreshToken == "" || cp.ExpiresAt.IsZero() {
		return
	}
	wait := cp.ExpiresAt.Sub(p.clock.Now()) - p.refreshLead
	if wait < 0 {
		wait = 0
	}
	p.scheduleRefreshLocked(wait, cp.AccessToken, 0)
}

func (p *Platform) scheduleRefreshLocked(wait time.Duration, accessToken string, failures int) {
	p.refresh = p.clock.AfterFunc(wait, func() { p.scheduledRefresh(accessToken, failures) })
}

// scheduledRefresh refreshes the session identified by accessToken. Transient failures are
// retried with backoff until the access token expires; after that the session ends.
func (p *Platform) scheduledRefresh(accessToken string, failures int) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	sess := p.current()
	if sess == nil || sess.AccessToken != accessToken {
		return
	}
	err := p.RefreshNow(ctx)
	if err == nil || isInvalidGrant(err) || errors.Is(err, ports.ErrNoSession) {
		return
	}

	p.mu.Lock()
	if p.session == nil || p.session.AccessToken != accessToken {
		// Replaced by a sign-in, sign-out or concurrent refresh.
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	if p.session.Expired(now) {
		userID := p.session.Identity.UserID
		p.installLocked(nil)
		p.mu.Unlock()

		p.logger.Warn("session expired before it could be refreshed; signing out",
			"user_id", userID, "attempts", failures+1, "error", err)
		p.purge(ctx)
		p.hub.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
		return
	}
	wait := min(refreshBackoff(failures), p.session.ExpiresAt.Sub(now))
	p.scheduleRefreshLocked(wait, accessToken, failures+1)
	p.mu.Unlock()

	p.logger.Warn("scheduled token refresh failed; retrying",
		"error", err, "attempt", failures+1, "retry_in", wait)
}

// refreshBackoff doubles from refreshRetryBase up to refreshRetryMax.
func refreshBackoff(failures int) time.Duration {
	d := refreshRetryBase
	for i := 0; i < failures && d < refreshRetryMax; i++ {
		d *= 2
	}
	return min(d, refreshRetryMax)
}

func (p *Platform) current() *domainauth.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	cp := *p.session
	return &cp
}

func (p *Platform) persist(ctx context.Context, sess domainauth.Session) {
	if p.creds == nil {
		return
	}
	if err := p.creds.Save(ctx, sess); err != nil {
		p.logger.Warn("persist credentials failed", "error", err)
	}
}

func (p *Platform) purge(ctx context.Context) {
	if p.creds == nil {
		return
	}
	if err := p.creds.Purge(ctx); err != nil {
		p.logger.Warn("purge credentials failed", "error", err)
	}
}

// revoke calls the RFC 7009 revocation endpoint for the refresh token.
func (p *Platform) revoke(ctx context.Context, sess domainauth.Session) error {
	token, hint := sess.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = sess.AccessToken, "access_token"
	}
	form := url.Values{"token": {token}, "token_type_hint": {hint}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.oauth.ClientID), url.QueryEscape(p.oauth.ClientSecret))
	return p.send(req)
}

func (p *Platform) doJSON(ctx context.Context, method, endpoint, bearer string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return p.send(req)
}

// StatusError is returned when the platform answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (p *Platform) send(req *http.Request) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method: req.Method,
		URL:    req.URL.Path,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(msg)),
	}
}

// isInvalidGrant reports whether the token endpoint rejected the grant itself.
func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode != "" {
		return re.ErrorCode == "invalid_grant"
	}
	return re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest ||
		re.Response.StatusCode == http.StatusUnauthorized)
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
