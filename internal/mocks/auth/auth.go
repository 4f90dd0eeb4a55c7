package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"sync"

	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityPlatform  = (*MockPlatform)(nil)
	_ ports.CredentialStore   = (*MemoryCredentialStore)(nil)
	_ ports.ProfileRepository = (*StubProfileRepository)(nil)
	_ ports.AuditLogger       = (*MemoryAuditLogger)(nil)
)

// MockPlatform simulates the identity platform. Events are only delivered when a test calls Emit,
// so tests control exactly when (and whether) the listener fires.
type MockPlatform struct {
	SignInFunc         func(ctx context.Context, email, password string) error
	SignOutFunc        func(ctx context.Context) error
	ResetFunc          func(ctx context.Context, email, redirectURL string) error
	UpdateUserFunc     func(ctx context.Context, in ports.UserUpdate) error
	CompleteRecoveryFn func(ctx context.Context, token string) error
	SubscribeErr       error

	mu           sync.Mutex
	events       chan domainauth.Event
	session      *domainauth.Session
	subscribers  int
	signIns      int
	signOuts     int
	resets       []string
	resetTargets []string
	updates      []ports.UserUpdate
}

// NewMockPlatform creates a MockPlatform with a buffered event channel.
func NewMockPlatform() *MockPlatform {
	return &MockPlatform{events: make(chan domainauth.Event, 32)}
}

func (m *MockPlatform) Subscribe(ctx context.Context) (<-chan domainauth.Event, error) {
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	m.mu.Lock()
	m.subscribers++
	m.mu.Unlock()

	out := make(chan domainauth.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-m.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Emit queues an event for the current subscriber and records the session it carries.
func (m *MockPlatform) Emit(ev domainauth.Event) {
	m.mu.Lock()
	m.session = ev.Session
	m.mu.Unlock()
	m.events <- ev
}

func (m *MockPlatform) SignInWithPassword(ctx context.Context, email, password string) error {
	m.mu.Lock()
	m.signIns++
	m.mu.Unlock()
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil
}

func (m *MockPlatform) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.signOuts++
	m.session = nil
	m.mu.Unlock()
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	return nil
}

func (m *MockPlatform) SendPasswordReset(ctx context.Context, email, redirectURL string) error {
	m.mu.Lock()
	m.resets = append(m.resets, email)
	m.resetTargets = append(m.resetTargets, redirectURL)
	m.mu.Unlock()
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, email, redirectURL)
	}
	return nil
}

func (m *MockPlatform) GetSession(_ context.Context) (*domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MockPlatform) UpdateUser(ctx context.Context, in ports.UserUpdate) error {
	m.mu.Lock()
	m.updates = append(m.updates, in)
	m.mu.Unlock()
	if m.UpdateUserFunc != nil {
		return m.UpdateUserFunc(ctx, in)
	}
	return nil
}

func (m *MockPlatform) CompleteRecovery(ctx context.Context, token string) error {
	if m.CompleteRecoveryFn != nil {
		return m.CompleteRecoveryFn(ctx, token)
	}
	return nil
}

// Subscribers returns how many times Subscribe succeeded.
func (m *MockPlatform) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribers
}

// SignIns returns the number of SignInWithPassword calls.
func (m *MockPlatform) SignIns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signIns
}

// SignOuts returns the number of SignOut calls.
func (m *MockPlatform) SignOuts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOuts
}

// Resets returns the emails and redirect targets passed to SendPasswordReset.
func (m *MockPlatform) Resets() (emails, redirects []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resets...), append([]string(nil), m.resetTargets...)
}

// Updates returns the UpdateUser payloads received.
func (m *MockPlatform) Updates() []ports.UserUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.UserUpdate(nil), m.updates...)
}

// MemoryCredentialStore is an in-memory credential store for unit tests.
type MemoryCredentialStore struct {
	mu      sync.Mutex
	session *domainauth.Session
	purges  int
	saves   int
}

// NewMemoryCredentialStore creates a store, optionally pre-seeded with a session.
func NewMemoryCredentialStore(seed *domainauth.Session) *MemoryCredentialStore {
	return &MemoryCredentialStore{session: seed}
}

func (m *MemoryCredentialStore) Load(_ context.Context) (*domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryCredentialStore) Save(_ context.Context, sess domainauth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &sess
	m.saves++
	return nil
}

func (m *MemoryCredentialStore) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.purges++
	return nil
}

// Purges returns how many times Purge was called.
func (m *MemoryCredentialStore) Purges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purges
}

// Present reports whether a session is currently stored.
func (m *MemoryCredentialStore) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// StubProfileRepository serves profiles and roles from maps. GetProfileFunc overrides the map.
type StubProfileRepository struct {
	GetProfileFunc func(ctx context.Context, userID string) (*domainauth.Profile, error)
	ListRolesFunc  func(ctx context.Context, userID string) (domainauth.RoleSet, error)

	mu           sync.Mutex
	profiles     map[string]domainauth.Profile
	roles        map[string]domainauth.RoleSet
	profileCalls int
}

// NewStubProfileRepository creates an empty stub repository.
func NewStubProfileRepository() *StubProfileRepository {
	return &StubProfileRepository{
		profiles: make(map[string]domainauth.Profile),
		roles:    make(map[string]domainauth.RoleSet),
	}
}

// Put registers a profile and its roles.
func (s *StubProfileRepository) Put(p domainauth.Profile, roles ...domainauth.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	s.roles[p.ID] = domainauth.RoleSet(roles)
}

func (s *StubProfileRepository) GetProfile(ctx context.Context, userID string) (*domainauth.Profile, error) {
	s.mu.Lock()
	s.profileCalls++
	fn := s.GetProfileFunc
	p, ok := s.profiles[userID]
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, userID)
	}
	if !ok {
		return nil, ports.ErrProfileNotFound
	}
	return &p, nil
}

func (s *StubProfileRepository) ListRoles(ctx context.Context, userID string) (domainauth.RoleSet, error) {
	if s.ListRolesFunc != nil {
		return s.ListRolesFunc(ctx, userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[userID].Clone(), nil
}

// ProfileCalls returns how many GetProfile calls were made.
func (s *StubProfileRepository) ProfileCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileCalls
}

// MemoryAuditLogger collects audit entries.
type MemoryAuditLogger struct {
	mu      sync.Mutex
	entries []ports.AuditEntry
}

func (m *MemoryAuditLogger) Record(_ context.Context, entry ports.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Actions returns the recorded action names in order.
func (m *MemoryAuditLogger) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}
