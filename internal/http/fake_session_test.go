package httpx

import (
	"context"
	"sync"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
)

// fakeSession is a scripted SessionService.
type fakeSession struct {
	mu       sync.Mutex
	state    domainauth.State
	waitErr  error
	err      error
	calls    []string
	activity []domainauth.ActivityKind
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) WaitSettled(ctx context.Context) (domainauth.State, error) {
	if f.waitErr != nil {
		<-ctx.Done()
		return f.state, f.waitErr
	}
	return f.Snapshot(), nil
}

func (f *fakeSession) Snapshot() domainauth.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeSession) SignIn(_ context.Context, email, _ string) error {
	f.record("sign_in:" + email)
	return f.err
}

func (f *fakeSession) SignOut(context.Context) { f.record("sign_out") }

func (f *fakeSession) ResetPassword(_ context.Context, email string) error {
	f.record("reset:" + email)
	return f.err
}

func (f *fakeSession) CompleteRecovery(_ context.Context, token string) error {
	f.record("recovery:" + token)
	return f.err
}

func (f *fakeSession) UpdatePassword(context.Context, string) error {
	f.record("password")
	return f.err
}

func (f *fakeSession) RefreshProfile(context.Context) error {
	f.record("refresh")
	return f.err
}

func (f *fakeSession) RecordActivity(_ context.Context, kind domainauth.ActivityKind) error {
	f.mu.Lock()
	f.activity = append(f.activity, kind)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSession) HasRole(roles ...domainauth.Role) bool {
	return f.Snapshot().Roles.Has(roles...)
}

func (f *fakeSession) CanAccessRegion(district string) bool {
	s := f.Snapshot()
	return domainauth.CanAccessRegion(s.Profile, s.Roles, district)
}

func signedInState() domainauth.State {
	return domainauth.State{
		Identity: &domainauth.Identity{UserID: "u-1", Email: "amina@example.org"},
		Session:  &domainauth.Session{AccessToken: "secret-token", Identity: domainauth.Identity{UserID: "u-1"}},
		Profile:  &domainauth.Profile{ID: "u-1", FullName: "Amina", District: "Kombo"},
		Roles:    domainauth.RoleSet{domainauth.RoleRegionalAdmin},
	}
}
