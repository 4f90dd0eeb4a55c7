package devauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
)

const accountsTOML = `
[[account]]
id = "2b7f0d1e-0000-4000-8000-000000000001"
email = "Admin@Example.org"
password = "admin"

[[account]]
id = "2b7f0d1e-0000-4000-8000-000000000002"
email = "regional@example.org"
password = "regional"
`

func writeAccounts(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func next(t *testing.T, ch <-chan domainauth.Event) domainauth.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domainauth.Event{}
	}
}

func TestNewPlatform_Validation(t *testing.T) {
	_, err := NewPlatform(Config{})
	require.Error(t, err)

	_, err = NewPlatform(Config{UserID: "dev-user"})
	require.ErrorContains(t, err, "Email is required")

	_, err = NewPlatform(Config{AccountsFile: writeAccounts(t, "[[account]]\nemail = \"x@example.org\"\n")})
	require.ErrorContains(t, err, "needs id and email")

	_, err = NewPlatform(Config{AccountsFile: filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
}

func TestPlatform_SignInFromAccountsFile(t *testing.T) {
	p, err := NewPlatform(Config{AccountsFile: writeAccounts(t, accountsTOML)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Subscribe(ctx)
	require.NoError(t, err)
	assert.Nil(t, next(t, events).Session)

	assert.ErrorIs(t, p.SignInWithPassword(ctx, "admin@example.org", "nope"), ports.ErrInvalidCredentials)
	assert.ErrorIs(t, p.SignInWithPassword(ctx, "ghost@example.org", "admin"), ports.ErrInvalidCredentials)

	require.NoError(t, p.SignInWithPassword(ctx, " admin@example.org ", "admin"))
	ev := next(t, events)
	assert.Equal(t, domainauth.EventSignedIn, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "2b7f0d1e-0000-4000-8000-000000000001", ev.Session.Identity.UserID)
	assert.NotEmpty(t, ev.Session.AccessToken)

	require.NoError(t, p.SignOut(ctx))
	assert.Equal(t, domainauth.EventSignedOut, next(t, events).Kind)
	sess, _ := p.GetSession(ctx)
	assert.Nil(t, sess)
}

func TestPlatform_RecoveryFlow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p, err := NewPlatform(Config{UserID: "dev-user", Email: "dev@example.org", Password: "old", Clock: clock})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := p.Subscribe(ctx)
	require.NoError(t, err)
	next(t, events)

	require.NoError(t, p.SendPasswordReset(ctx, "unknown@example.org", ""))
	require.NoError(t, p.SendPasswordReset(ctx, "dev@example.org", "http://localhost:8080/auth/recovery"))

	p.mu.Lock()
	require.Len(t, p.recovery, 1)
	var token string
	for k := range p.recovery {
		token = k
	}
	p.mu.Unlock()

	assert.ErrorIs(t, p.CompleteRecovery(ctx, "bogus"), ports.ErrRecoveryLinkInvalid)
	require.NoError(t, p.CompleteRecovery(ctx, token))
	ev := next(t, events)
	assert.Equal(t, domainauth.EventPasswordRecovery, ev.Kind)
	assert.Equal(t, "dev-user", ev.Session.Identity.UserID)

	assert.ErrorIs(t, p.CompleteRecovery(ctx, token), ports.ErrRecoveryLinkInvalid, "tokens are single use")

	require.NoError(t, p.UpdateUser(ctx, ports.UserUpdate{Password: "new"}))
	require.NoError(t, p.SignOut(ctx))
	assert.ErrorIs(t, p.SignInWithPassword(ctx, "dev@example.org", "old"), ports.ErrInvalidCredentials)
	require.NoError(t, p.SignInWithPassword(ctx, "dev@example.org", "new"))
}

func TestPlatform_RecoveryTokenExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p, err := NewPlatform(Config{UserID: "dev-user", Email: "dev@example.org", Clock: clock, RecoveryTTL: time.Minute})
	require.NoError(t, err)

	require.NoError(t, p.SendPasswordReset(context.Background(), "dev@example.org", ""))
	var token string
	for k := range p.recovery {
		token = k
	}
	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, p.CompleteRecovery(context.Background(), token), ports.ErrRecoveryLinkInvalid)
}

func TestRecoveryLink(t *testing.T) {
	assert.Equal(t, "/auth/recovery?token=abc", recoveryLink("", "abc"))
	assert.Equal(t, "https://portal.example.org/auth/recovery?next=x&token=abc",
		recoveryLink("https://portal.example.org/auth/recovery?next=x", "abc"))
}

func TestPlatform_UpdateUserRequiresSession(t *testing.T) {
	p, err := NewPlatform(Config{UserID: "dev-user", Email: "dev@example.org"})
	require.NoError(t, err)
	assert.ErrorIs(t, p.UpdateUser(context.Background(), ports.UserUpdate{Password: "x"}), ports.ErrNoSession)
}
