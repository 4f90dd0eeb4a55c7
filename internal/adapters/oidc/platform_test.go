package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	mockauth "github.com/youthvoice/portal/internal/mocks/auth"
	"github.com/youthvoice/portal/internal/ports"
	"golang.org/x/oauth2"
)

const testPassword = "correct horse"

// fakeIdP is a minimal hosted identity platform: discovery, token, userinfo and REST endpoints.
type fakeIdP struct {
	srv *httptest.Server

	mu         sync.Mutex
	refreshOK  bool
	recoverErr bool
	resets     []map[string]string
	passwords  []string
	bearers    []string
	revoked    []string

	// refreshUnavailable answers that many refresh grants with 503; negative means always.
	refreshUnavailable int
	refreshCalls       int
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{refreshOK: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                 f.srv.URL,
			"authorization_endpoint": f.srv.URL + "/authorize",
			"token_endpoint":         f.srv.URL + "/token",
			"userinfo_endpoint":      f.srv.URL + "/userinfo",
			"jwks_uri":               f.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer at-") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub": "user-1", "mail": "amina@example.org"})
	})
	mux.HandleFunc("/recover", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.recoverErr {
			http.Error(w, "mailer unavailable", http.StatusServiceUnavailable)
			return
		}
		f.resets = append(f.resets, body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.passwords = append(f.passwords, body["password"])
		f.bearers = append(f.bearers, r.Header.Get("Authorization"))
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": "user-1"})
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.revoked = append(f.revoked, r.PostForm.Get("token"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	invalid := map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"}
	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("password") != testPassword {
			writeJSON(w, http.StatusBadRequest, invalid)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "at-1", "refresh_token": "rt-1", "token_type": "bearer", "expires_in": 3600,
		})
	case "refresh_token":
		f.mu.Lock()
		f.refreshCalls++
		ok := f.refreshOK
		unavailable := f.refreshUnavailable != 0
		if f.refreshUnavailable > 0 {
			f.refreshUnavailable--
		}
		f.mu.Unlock()
		if unavailable {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "temporarily_unavailable"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusBadRequest, invalid)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "at-2", "refresh_token": "rt-2", "token_type": "bearer", "expires_in": 3600,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestPlatform(t *testing.T, f *fakeIdP, creds ports.CredentialStore) *Platform {
	t.Helper()
	return newClockedPlatform(t, f, creds, clockwork.NewFakeClock())
}

func newClockedPlatform(t *testing.T, f *fakeIdP, creds ports.CredentialStore, clock clockwork.Clock) *Platform {
	t.Helper()
	p, err := NewPlatform(context.Background(), PlatformConfig{
		ClientID:      "portal-admin",
		ClientSecret:  "secret",
		Scope:         "openid email",
		DiscoveryURL:  f.srv.URL + "/.well-known/openid-configuration",
		RecoverURL:    f.srv.URL + "/recover",
		UserURL:       f.srv.URL + "/user",
		RevocationURL: f.srv.URL + "/revoke",
		Credentials:   creds,
		Clock:         clock,
	})
	require.NoError(t, err)
	return p
}

func nextEvent(t *testing.T, ch <-chan domainauth.Event) domainauth.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return domainauth.Event{}
	}
}

func subscribe(t *testing.T, p *Platform) <-chan domainauth.Event {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := p.Subscribe(ctx)
	require.NoError(t, err)
	return ch
}

func TestNewPlatform_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config PlatformConfig
		errMsg string
	}{
		{name: "missing client ID", config: PlatformConfig{DiscoveryURL: "http://example.com"}, errMsg: "client ID is required"},
		{name: "missing discovery URL", config: PlatformConfig{ClientID: "client"}, errMsg: "discovery URL is required"},
		{
			name:   "bad claim expression",
			config: PlatformConfig{ClientID: "client", DiscoveryURL: "http://example.com", EmailClaim: "email ||"},
			errMsg: "invalid claim expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlatform(context.Background(), tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewPlatform_DiscoversEndpoints(t *testing.T) {
	f := newFakeIdP(t)
	p := newTestPlatform(t, f, nil)

	assert.Equal(t, f.srv.URL+"/token", p.oauth.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid", "email"}, p.oauth.Scopes)
	assert.NotNil(t, p.httpClient.Jar)
}

func TestPlatform_SignInWithPassword(t *testing.T) {
	f := newFakeIdP(t)
	creds := mockauth.NewMemoryCredentialStore(nil)
	p := newTestPlatform(t, f, creds)
	events := subscribe(t, p)

	initial := nextEvent(t, events)
	assert.Equal(t, domainauth.EventInitialSession, initial.Kind)
	assert.Nil(t, initial.Session)

	require.NoError(t, p.SignInWithPassword(context.Background(), "amina@example.org", testPassword))

	ev := nextEvent(t, events)
	assert.Equal(t, domainauth.EventSignedIn, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "user-1", ev.Session.Identity.UserID)
	assert.Equal(t, "amina@example.org", ev.Session.Identity.Email, "email falls back to mail claim")
	assert.Equal(t, "at-1", ev.Session.AccessToken)
	assert.True(t, creds.Present())

	sess, err := p.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rt-1", sess.RefreshToken)
}

func TestPlatform_SignInWithPassword_InvalidCredentials(t *testing.T) {
	f := newFakeIdP(t)
	p := newTestPlatform(t, f, nil)

	err := p.SignInWithPassword(context.Background(), "amina@example.org", "wrong")
	assert.ErrorIs(t, err, ports.ErrInvalidCredentials)

	sess, _ := p.GetSession(context.Background())
	assert.Nil(t, sess)
}

func TestPlatform_RefreshNow(t *testing.T) {
	f := newFakeIdP(t)
	creds := mockauth.NewMemoryCredentialStore(nil)
	p := newTestPlatform(t, f, creds)
	events := subscribe(t, p)
	nextEvent(t, events)

	require.NoError(t, p.SignInWithPassword(context.Background(), "amina@example.org", testPassword))
	nextEvent(t, events)

	require.NoError(t, p.RefreshNow(context.Background()))
	ev := nextEvent(t, events)
	assert.Equal(t, domainauth.EventTokenRefreshed, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "at-2", ev.Session.AccessToken)
	assert.Equal(t, "user-1", ev.Session.Identity.UserID)
}

func TestPlatform_RefreshRejectedSignsOut(t *testing.T) {
	f := newFakeIdP(t)
	creds := mockauth.NewMemoryCredentialStore(nil)
	p := newTestPlatform(t, f, creds)
	events := subscribe(t, p)
	nextEvent(t, events)

	require.NoError(t, p.SignInWithPassword(context.Background(), "amina@example.org", testPassword))
	nextEvent(t, events)

	f.mu.Lock()
	f.refreshOK = false
	f.mu.Unlock()

	require.Error(t, p.RefreshNow(context.Background()))
	ev := nextEvent(t, events)
	assert.Equal(t, domainauth.EventSignedOut, ev.Kind)
	assert.Nil(t, ev.Session)
	assert.False(t, creds.Present())
}

func (f *fakeIdP) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// signedInAtRefreshPoint signs in and advances the clock to the scheduled refresh.
func signedInAtRefreshPoint(t *testing.T, p *Platform, clock fakeClock, events <-chan domainauth.Event) domainauth.Session {
	t.Helper()
	require.NoError(t, p.SignInWithPassword(context.Background(), "amina@example.org", testPassword))
	nextEvent(t, events)

	sess, err := p.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	clock.Advance(sess.ExpiresAt.Sub(clock.Now()) - defaultRefreshLead)
	return *sess
}

// advanceUntilEvent steps the clock until the platform publishes an event.
func advanceUntilEvent(t *testing.T, clock fakeClock, events <-chan domainauth.Event, step time.Duration) domainauth.Event {
	t.Helper()
	var ev domainauth.Event
	require.Eventually(t, func() bool {
		select {
		case ev = <-events:
			return true
		default:
			clock.Advance(step)
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "no session event")
	return ev
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func TestPlatform_ScheduledRefreshRetriesTransientFailure(t *testing.T) {
	f := newFakeIdP(t)
	f.mu.Lock()
	f.refreshUnavailable = 1
	f.mu.Unlock()
	clock := clockwork.NewFakeClock()
	creds := mockauth.NewMemoryCredentialStore(nil)
	p := newClockedPlatform(t, f, creds, clock)
	events := subscribe(t, p)
	nextEvent(t, events)

	signedInAtRefreshPoint(t, p, clock, events)
	require.Eventually(t, func() bool { return f.refreshes() == 1 }, 2*time.Second, 5*time.Millisecond)

	ev := advanceUntilEvent(t, clock, events, time.Second)
	assert.Equal(t, domainauth.EventTokenRefreshed, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "at-2", ev.Session.AccessToken)
	assert.Equal(t, 2, f.refreshes())
	assert.True(t, creds.Present())
}

func TestPlatform_ScheduledRefreshEndsSessionAtExpiry(t *testing.T) {
	f := newFakeIdP(t)
	f.mu.Lock()
	f.refreshUnavailable = -1
	f.mu.Unlock()
	clock := clockwork.NewFakeClock()
	creds := mockauth.NewMemoryCredentialStore(nil)
	p := newClockedPlatform(t, f, creds, clock)
	events := subscribe(t, p)
	nextEvent(t, events)

	sess := signedInAtRefreshPoint(t, p, clock, events)

	ev := advanceUntilEvent(t, clock, events, 5*time.Second)
	assert.Equal(t, domainauth.EventSignedOut, ev.Kind)
	assert.Nil(t, ev.Session)
	assert.False(t, clock.Now().Before(sess.ExpiresAt), "session ended before it expired")
	assert.Greater(t, f.refreshes(), 1, "transient failures should be retried")
	assert.False(t, creds.Present())

	cur, err := p.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestExpiresIn(t *testing.T) {
	tests := []struct {
		name string
		tok  *oauth2.Token
		want time.Duration
	}{
		{name: "typed field", tok: &oauth2.Token{ExpiresIn: 60}, want: time.Minute},
		{name: "json response", tok: (&oauth2.Token{}).WithExtra(map[string]any{"expires_in": float64(3600)}), want: time.Hour},
		{name: "form response", tok: (&oauth2.Token{}).WithExtra(url.Values{"expires_in": {"120"}}), want: 2 * time.Minute},
		{name: "absent", tok: &oauth2.Token{}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expiresIn(tt.tok))
		})
	}
}

func TestRefreshBackoff(t *testing.T) {
	assert.Equal(t, refreshRetryBase, refreshBackoff(0))
	assert.Equal(t, 2*refreshRetryBase, refreshBackoff(1))
	assert.Equal(t, refreshRetryMax, refreshBackoff(10))
}

func TestPlatform_SignOutRevokes(t *testing.T) {
	f := newFakeIdP(t)
	p := newTestPlatform(t, f, nil)
	events := subscribe(t, p)
	nextEvent(t, events)

	require.NoError(t, p.SignInWithPassword(context.Background(), "amina@example.org", testPassword))
	nextEvent(t, events)

	require.NoError(t, p.SignOut(context.Background()))
	assert.Equal(t, domainauth.EventSignedOut, nextEvent(t, events).Kind)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"rt-1"}, f.revoked)
}

func TestPlatform_SendPasswordReset(t *testing.T) {
	f := newFakeIdP(t)
	p := newTestPlatform(t, f, nil)

	require.NoError(t, p.SendPasswordReset(context.Background(), "amina@example.org", "https://portal.example.org/reset-password"))

	f.mu.Lock()
	require.Len(t, f.resets, 1)
	assert.Equal(t, "amina@example.org", f.resets[0]["email"])
	assert.Equal(t, "https://portal.example.org/reset-password", f.resets[0]["redirect_to"])
	f.recoverErr = true
	f.mu.Unlock()

	err := p.SendPasswordReset(context.Background(), "amina@example.org", "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestPlatform_UpdateUser(t *testing.T) {
	f := newFakeIdP(t)
	p := newTestPlatform(t, f, nil)
	ctx := context.Background()

	assert.ErrorIs(t, p.UpdateUser(ctx, ports.UserUpdate{Password: "n3w"}), ports.ErrNoSession)

	require.NoError(t, p.SignInWithPassword(ctx, "amina@example.org", testPassword))
	require.NoError(t, p.UpdateUser(ctx, ports.UserUpdate{Password: "n3w"}))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"n3w"}, f.passwords)
	assert.Equal(t, []string{"Bearer at-1"}, f.bearers)
}

func TestPlatform_CompleteRecoveryRejectsMalformedToken(t *testing.T) {
	f := newFakeIdP(t)
	p := newTestPlatform(t, f, nil)

	err := p.CompleteRecovery(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ports.ErrRecoveryLinkInvalid)
}

func TestPlatform_SubscribeRestoresPersistedSession(t *testing.T) {
	f := newFakeIdP(t)
	clock := clockwork.NewFakeClock()
	stored := &domainauth.Session{
		AccessToken:  "at-stored",
		RefreshToken: "rt-stored",
		ExpiresAt:    clock.Now().Add(2 * time.Hour),
		Identity:     domainauth.Identity{UserID: "user-1", Email: "amina@example.org"},
	}
	creds := mockauth.NewMemoryCredentialStore(stored)

	p, err := NewPlatform(context.Background(), PlatformConfig{
		ClientID:     "portal-admin",
		DiscoveryURL: f.srv.URL,
		Credentials:  creds,
		Clock:        clock,
	})
	require.NoError(t, err)

	ev := nextEvent(t, subscribe(t, p))
	assert.Equal(t, domainauth.EventInitialSession, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "at-stored", ev.Session.AccessToken)
}

func TestPlatform_SubscribeDropsUnrefreshablePersistedSession(t *testing.T) {
	f := newFakeIdP(t)
	f.mu.Lock()
	f.refreshOK = false
	f.mu.Unlock()
	clock := clockwork.NewFakeClock()
	creds := mockauth.NewMemoryCredentialStore(&domainauth.Session{
		AccessToken:  "at-stale",
		RefreshToken: "rt-stale",
		ExpiresAt:    clock.Now().Add(-time.Minute),
		Identity:     domainauth.Identity{UserID: "user-1"},
	})

	p, err := NewPlatform(context.Background(), PlatformConfig{
		ClientID:     "portal-admin",
		DiscoveryURL: f.srv.URL,
		Credentials:  creds,
		Clock:        clock,
	})
	require.NoError(t, err)

	ev := nextEvent(t, subscribe(t, p))
	assert.Nil(t, ev.Session)
	assert.False(t, creds.Present())
}

func TestIsInvalidGrant(t *testing.T) {
	assert.True(t, isInvalidGrant(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	assert.False(t, isInvalidGrant(&oauth2.RetrieveError{ErrorCode: "invalid_client"}))
	assert.True(t, isInvalidGrant(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}}))
	assert.False(t, isInvalidGrant(errors.New("dial tcp: connection refused")))
}

func TestIdentityFromClaims(t *testing.T) {
	p := &Platform{userIDClaim: "app_metadata.uid || sub", emailClaim: defaultEmailClaim}

	id, err := p.identityFromClaims(map[string]any{
		"sub":          "sub-1",
		"email":        "a@example.org",
		"app_metadata": map[string]any{"uid": "uid-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, domainauth.Identity{UserID: "uid-9", Email: "a@example.org"}, id)

	_, err = p.identityFromClaims(map[string]any{"email": "a@example.org"})
	require.Error(t, err)
}
