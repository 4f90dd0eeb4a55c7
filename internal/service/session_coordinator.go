package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"github.com/youthvoice/portal/internal/observability/metrics"
	"github.com/youthvoice/portal/internal/observability/statsd"
	"github.com/youthvoice/portal/internal/ports"
	"golang.org/x/sync/singleflight"
)

// Defaults for CoordinatorOptions.
const (
	DefaultSafetyTimeout     = 15 * time.Second
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultProfileAttempts   = 3
	DefaultProfileRetryDelay = 1200 * time.Millisecond
	DefaultCallTimeout       = 10 * time.Second
)

// Audit actions written by the coordinator.
const (
	AuditActionSignIn      = "auth.sign_in"
	AuditActionSignOut     = "auth.sign_out"
	AuditActionIdleSignOut = "auth.idle_sign_out"
)

var (
	// ErrNotRunning is returned when an action needs the coordinator loop but it is not running.
	ErrNotRunning = errors.New("session coordinator is not running")
	// ErrAlreadyStarted is returned by Start when called twice.
	ErrAlreadyStarted = errors.New("session coordinator already started")
	// ErrNotInRecovery is returned by UpdatePassword outside a password-recovery flow.
	ErrNotInRecovery = errors.New("no password recovery in progress")
	// ErrEmailRequired is returned by SignIn and ResetPassword when email is blank.
	ErrEmailRequired = errors.New("email is required")
	// ErrPasswordRequired is returned by SignIn and UpdatePassword when password is blank.
	ErrPasswordRequired = errors.New("password is required")
)

// CoordinatorOptions groups dependencies and timings for SessionCoordinator.
type CoordinatorOptions struct {
	Platform    ports.IdentityPlatform
	Profiles    ports.ProfileRepository
	Credentials ports.CredentialStore
	Audit       ports.AuditLogger // optional
	Clock       clockwork.Clock   // optional, real clock by default
	Metrics     statsd.Sink       // optional
	Logger      *slog.Logger

	// ResetRedirectURL is where password-reset emails send the user back to.
	ResetRedirectURL string

	SafetyTimeout     time.Duration
	IdleTimeout       time.Duration
	ProfileAttempts   int
	ProfileRetryDelay time.Duration
	CallTimeout       time.Duration
}

// SessionCoordinator owns the process-wide bootstrap state. A single loop goroutine applies
// platform events, timer expiries, fetch results and actions; readers get the latest committed
// snapshot without locking.
type SessionCoordinator struct {
	platform    ports.IdentityPlatform
	profiles    ports.ProfileRepository
	credentials ports.CredentialStore
	audit       ports.AuditLogger
	clock       clockwork.Clock
	metrics     statsd.Sink
	logger      *slog.Logger

	resetRedirectURL  string
	safetyTimeout     time.Duration
	idleTimeout       time.Duration
	profileAttempts   int
	profileRetryDelay time.Duration
	callTimeout       time.Duration

	current atomic.Pointer[domainauth.State]
	flight  singleflight.Group

	ops     chan loopOp
	done    chan struct{}
	started atomic.Bool
	stop    sync.Once
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup

	// onPublish observes every committed state; set only in tests before Start.
	onPublish func(domainauth.State)
}

// loopOp is applied by the loop; done, when set, is closed after the resulting state is published.
type loopOp struct {
	fn   func(*loopState)
	done chan struct{}
}

// loopState is owned by the loop goroutine.
type loopState struct {
	state    domainauth.State
	decided  bool
	safety   clockwork.Timer
	idle     clockwork.Timer
	idleGen  uint64
	watchers map[chan domainauth.State]struct{}

	fetching      bool
	fetchGen      uint64
	fetchAttempts int
	// retryAfterFetch asks for the retried sequence once the in-flight single attempt fails.
	retryAfterFetch bool
	fetchWaiters    []chan struct{}
}

// NewSessionCoordinator constructs a coordinator. Call Start to begin bootstrapping.
func NewSessionCoordinator(opts CoordinatorOptions) *SessionCoordinator {
	c := &SessionCoordinator{
		platform:          opts.Platform,
		profiles:          opts.Profiles,
		credentials:       opts.Credentials,
		audit:             opts.Audit,
		clock:             opts.Clock,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		resetRedirectURL:  opts.ResetRedirectURL,
		safetyTimeout:     opts.SafetyTimeout,
		idleTimeout:       opts.IdleTimeout,
		profileAttempts:   opts.ProfileAttempts,
		profileRetryDelay: opts.ProfileRetryDelay,
		callTimeout:       opts.CallTimeout,
		ops:               make(chan loopOp),
		done:              make(chan struct{}),
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "session_coordinator")
	if c.safetyTimeout <= 0 {
		c.safetyTimeout = DefaultSafetyTimeout
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = DefaultIdleTimeout
	}
	if c.profileAttempts <= 0 {
		c.profileAttempts = DefaultProfileAttempts
	}
	if c.profileRetryDelay <= 0 {
		c.profileRetryDelay = DefaultProfileRetryDelay
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}

	initial := domainauth.State{AuthInitializing: true, Roles: domainauth.RoleSet{}}
	c.current.Store(&initial)
	return c
}

// Start arms the safety timer and subscribes to platform events in the background.
// The coordinator runs until Stop is called or ctx is canceled.
func (c *SessionCoordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	ls := &loopState{
		state:    *c.current.Load(),
		watchers: make(map[chan domainauth.State]struct{}),
	}
	ls.safety = c.clock.AfterFunc(c.safetyTimeout, func() {
		go c.post(c.safetyExpired)
	})

	attach := make(chan (<-chan domainauth.Event), 1)
	c.wg.Add(1)
	go c.subscribe(attach)
	go c.run(ls, attach)
	return nil
}

// subscribe may block while the platform restores persisted credentials; the safety timer
// is already running by then.
func (c *SessionCoordinator) subscribe(attach chan<- (<-chan domainauth.Event)) {
	defer c.wg.Done()
	events, err := c.platform.Subscribe(c.ctx)
	if err != nil {
		if c.ctx.Err() == nil {
			// The safety timer still settles the UI; no events will arrive.
			c.logger.Warn("subscribe to session events failed", "error", err)
		}
		return
	}
	attach <- events
}

// Stop unsubscribes, cancels timers and waits for background work. Safe to call repeatedly.
func (c *SessionCoordinator) Stop() {
	if !c.started.Load() {
		return
	}
	c.stop.Do(func() {
		c.cancel()
		<-c.done
		c.wg.Wait()
	})
}

func (c *SessionCoordinator) run(ls *loopState, attach <-chan (<-chan domainauth.Event)) {
	var events <-chan domainauth.Event
	defer func() {
		stopTimer(ls.safety)
		stopTimer(ls.idle)
		for ch := range ls.watchers {
			close(ch)
		}
		close(c.done)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case events = <-attach:
			attach = nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ls, ev)
			c.publish(ls)
		case op := <-c.ops:
			op.fn(ls)
			c.publish(ls)
			if op.done != nil {
				close(op.done)
			}
		}
	}
}

// post hands op to the loop; it is dropped once the loop has exited.
func (c *SessionCoordinator) post(op func(*loopState)) bool {
	if !c.started.Load() {
		return false
	}
	select {
	case c.ops <- loopOp{fn: op}:
		return true
	case <-c.done:
		return false
	}
}

// do runs op on the loop and waits for it to finish.
func (c *SessionCoordinator) do(ctx context.Context, op func(*loopState)) error {
	if !c.started.Load() {
		return ErrNotRunning
	}
	finished := make(chan struct{})
	select {
	case c.ops <- loopOp{fn: op, done: finished}:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrNotRunning
	}
}

func (c *SessionCoordinator) publish(ls *loopState) {
	snap := ls.state.Clone()
	c.current.Store(&snap)
	for ch := range ls.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snap.Clone()
	}
	if c.onPublish != nil {
		c.onPublish(snap.Clone())
	}
}

func (c *SessionCoordinator) handleEvent(ls *loopState, ev domainauth.Event) {
	c.logger.Debug("session event", "kind", ev.Kind, "has_session", ev.Session != nil)

	if ev.Session == nil {
		if ev.Kind == domainauth.EventSignedOut {
			c.purgeCredentials(c.ctx)
		}
		c.clearSession(ls)
		c.decide(ls)
		return
	}

	sess := *ev.Session
	switch ev.Kind {
	case domainauth.EventInitialSession, domainauth.EventSignedIn:
		c.setSession(ls, sess)
		ls.state.PasswordRecovery = false
		c.decide(ls)
		c.startFetch(ls, sess.Identity.UserID)
		if ev.Kind == domainauth.EventSignedIn {
			metrics.EmitSessionEvent(c.metrics, metrics.EventSignIn)
			c.recordAudit(ports.AuditEntry{ActorID: sess.Identity.UserID, Action: AuditActionSignIn, Target: sess.Identity.Email})
		}
	case domainauth.EventTokenRefreshed:
		c.setSession(ls, sess)
		c.decide(ls)
		if ls.state.Profile == nil {
			c.startFetch(ls, sess.Identity.UserID)
		}
	case domainauth.EventPasswordRecovery:
		c.setSession(ls, sess)
		ls.state.PasswordRecovery = true
		c.decide(ls)
		metrics.EmitSessionEvent(c.metrics, metrics.EventRecovery)
	default:
		c.logger.Warn("unknown session event kind", "kind", ev.Kind)
		c.setSession(ls, sess)
		c.decide(ls)
	}
}

// setSession installs identity and session, dropping profile data that belongs to another user.
func (c *SessionCoordinator) setSession(ls *loopState, sess domainauth.Session) {
	if ls.state.Identity != nil && ls.state.Identity.UserID != sess.Identity.UserID {
		c.clearSession(ls)
	}
	id := sess.Identity
	ls.state.Identity = &id
	ls.state.Session = &sess
	if ls.idle == nil {
		c.armIdle(ls)
	}
}

// clearSession resets everything derived from a session and disarms the idle timer.
func (c *SessionCoordinator) clearSession(ls *loopState) {
	ls.state.Identity = nil
	ls.state.Session = nil
	ls.state.Profile = nil
	ls.state.Roles = domainauth.RoleSet{}
	ls.state.PasswordRecovery = false
	ls.state.ProfileFetching = false
	ls.fetching = false
	ls.retryAfterFetch = false
	ls.fetchGen++
	releaseFetchWaiters(ls)
	stopTimer(ls.idle)
	ls.idle = nil
	ls.idleGen++
}

// decide settles AuthInitializing exactly once.
func (c *SessionCoordinator) decide(ls *loopState) {
	if ls.decided {
		return
	}
	ls.decided = true
	ls.state.AuthInitializing = false
	stopTimer(ls.safety)
}

func (c *SessionCoordinator) safetyExpired(ls *loopState) {
	if ls.decided {
		return
	}
	c.logger.Warn("auth decision not reached before safety timeout; continuing without it",
		"timeout", c.safetyTimeout)
	metrics.EmitSessionEvent(c.metrics, metrics.EventSafetyTimeout)
	ls.decided = true
	ls.state.AuthInitializing = false
}

func (c *SessionCoordinator) armIdle(ls *loopState) {
	stopTimer(ls.idle)
	ls.idleGen++
	gen := ls.idleGen
	ls.idle = c.clock.AfterFunc(c.idleTimeout, func() {
		go c.post(func(ls *loopState) { c.idleExpired(ls, gen) })
	})
}

func (c *SessionCoordinator) idleExpired(ls *loopState, gen uint64) {
	if gen != ls.idleGen || ls.state.Session == nil {
		return
	}
	c.logger.Info("signing out after inactivity", "idle_timeout", c.idleTimeout)
	stopTimer(ls.idle)
	ls.idle = nil
	ls.idleGen++

	actor := ls.state.Identity.UserID
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.signOut(c.ctx, actor, AuditActionIdleSignOut)
	}()
}

// fetchResult is the outcome of loading a profile and its roles.
type fetchResult struct {
	profile *domainauth.Profile
	roles   domainauth.RoleSet
	err     error
}

// startFetch begins a retried profile fetch unless one is already in flight. An in-flight
// single attempt is followed by the retried sequence if it fails.
func (c *SessionCoordinator) startFetch(ls *loopState, userID string) {
	if ls.fetching {
		if ls.fetchAttempts < c.profileAttempts {
			ls.retryAfterFetch = true
		}
		return
	}
	gen := c.beginFetch(ls, c.profileAttempts)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := c.loadProfile(userID, c.profileAttempts)
		c.post(func(ls *loopState) { c.applyFetch(ls, gen, userID, res) })
	}()
}

func (c *SessionCoordinator) beginFetch(ls *loopState, attempts int) uint64 {
	ls.fetchGen++
	ls.fetching = true
	ls.fetchAttempts = attempts
	ls.retryAfterFetch = false
	ls.state.ProfileFetching = true
	return ls.fetchGen
}

func (c *SessionCoordinator) applyFetch(ls *loopState, gen uint64, userID string, res fetchResult) {
	if gen != ls.fetchGen {
		return
	}
	ls.fetching = false
	ls.state.ProfileFetching = false
	retry := ls.retryAfterFetch
	ls.retryAfterFetch = false
	releaseFetchWaiters(ls)
	if ls.state.Identity == nil || ls.state.Identity.UserID != userID {
		return
	}

	switch {
	case res.err == nil:
		ls.state.Profile = res.profile
		ls.state.Roles = res.roles.Clone()
	case errors.Is(res.err, ports.ErrProfileNotFound):
		c.logger.Warn("profile unavailable; keeping session without profile", "user_id", userID)
		ls.state.Profile = nil
		ls.state.Roles = domainauth.RoleSet{}
	case errors.Is(res.err, context.Canceled):
	default:
		c.logger.Warn("profile fetch failed; keeping previous profile", "user_id", userID, "error", res.err)
	}
	if retry && res.err != nil && !errors.Is(res.err, context.Canceled) {
		c.startFetch(ls, userID)
	}
}

func releaseFetchWaiters(ls *loopState) {
	for _, ch := range ls.fetchWaiters {
		close(ch)
	}
	ls.fetchWaiters = nil
}

// loadProfile runs at most one fetch sequence per user across all callers.
func (c *SessionCoordinator) loadProfile(userID string, attempts int) fetchResult {
	v, _, _ := c.flight.Do(userID, func() (any, error) {
		return c.fetchWithRetry(userID, attempts), nil
	})
	res, ok := v.(fetchResult)
	if !ok {
		return fetchResult{err: fmt.Errorf("unexpected fetch result %T", v)}
	}
	return res
}

func (c *SessionCoordinator) fetchWithRetry(userID string, attempts int) (res fetchResult) {
	started := c.clock.Now()
	attempt := 1
	defer func() { c.emitFetch(res, attempt, c.clock.Since(started)) }()

	for ; attempt <= attempts; attempt++ {
		res = c.fetchOnce(userID)
		if res.err == nil {
			return res
		}
		c.logger.Debug("profile fetch attempt failed", "user_id", userID, "attempt", attempt, "error", res.err)
		if attempt == attempts {
			break
		}
		select {
		case <-c.ctx.Done():
			return fetchResult{err: c.ctx.Err()}
		case <-c.clock.After(c.profileRetryDelay):
		}
	}
	return res
}

func (c *SessionCoordinator) emitFetch(res fetchResult, attempts int, took time.Duration) {
	in := metrics.ProfileFetch{Result: metrics.ResultSuccess, Attempts: attempts, Duration: took, Err: res.err}
	switch {
	case res.err == nil:
	case errors.Is(res.err, ports.ErrProfileNotFound):
		in.Result = metrics.ResultNotFound
	default:
		in.Result = metrics.ResultError
	}
	metrics.EmitProfileFetch(c.metrics, in)
}

func (c *SessionCoordinator) fetchOnce(userID string) (res fetchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = fetchResult{err: fmt.Errorf("profile fetch panicked: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
	defer cancel()

	profile, err := c.profiles.GetProfile(ctx, userID)
	if err != nil {
		return fetchResult{err: err}
	}
	if profile == nil {
		return fetchResult{err: ports.ErrProfileNotFound}
	}
	roles, err := c.profiles.ListRoles(ctx, userID)
	if err != nil {
		c.logger.Warn("role fetch failed; continuing with no roles", "user_id", userID, "error", err)
		roles = domainauth.RoleSet{}
	}
	return fetchResult{profile: profile, roles: roles}
}

func (c *SessionCoordinator) purgeCredentials(parent context.Context) {
	if c.credentials == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.callTimeout)
	defer cancel()
	if err := c.credentials.Purge(ctx); err != nil {
		c.logger.Warn("purge persisted credentials failed", "error", err)
	}
}

func (c *SessionCoordinator) recordAudit(entry ports.AuditEntry) {
	if c.audit == nil {
		return
	}
	entry.CreatedAt = c.clock.Now().UTC()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.callTimeout)
		defer cancel()
		if err := c.audit.Record(ctx, entry); err != nil {
			c.logger.Warn("write audit log failed", "action", entry.Action, "error", err)
		}
	}()
}

// signOut purges credentials, asks the platform to sign out (best effort), then clears state.
func (c *SessionCoordinator) signOut(ctx context.Context, actorID, action string) {
	c.purgeCredentials(ctx)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	if err := c.platform.SignOut(callCtx); err != nil {
		c.logger.Warn("platform sign-out failed; clearing local session anyway", "error", err)
	}
	cancel()

	if action == AuditActionIdleSignOut {
		metrics.EmitSessionEvent(c.metrics, metrics.EventIdleSignOut)
	} else {
		metrics.EmitSessionEvent(c.metrics, metrics.EventSignOut)
	}

	if actorID != "" && c.audit != nil {
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		entry := ports.AuditEntry{ActorID: actorID, Action: action, CreatedAt: c.clock.Now().UTC()}
		if err := c.audit.Record(auditCtx, entry); err != nil {
			c.logger.Warn("write audit log failed", "action", action, "error", err)
		}
		cancel()
	}
	// Callers observe the cleared state once SignOut returns.
	_ = c.do(context.WithoutCancel(ctx), func(ls *loopState) {
		c.clearSession(ls)
		c.decide(ls)
	})
}

// Snapshot returns the latest committed state.
func (c *SessionCoordinator) Snapshot() domainauth.State {
	return c.current.Load().Clone()
}

// Watch streams committed states, starting with the current one. Intermediate states may be
// coalesced for slow readers. The channel closes when ctx is done or the coordinator stops.
func (c *SessionCoordinator) Watch(ctx context.Context) (<-chan domainauth.State, error) {
	ch := make(chan domainauth.State, 1)
	if err := c.do(ctx, func(ls *loopState) {
		ls.watchers[ch] = struct{}{}
		ch <- ls.state.Clone()
	}); err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			c.post(func(ls *loopState) {
				if _, ok := ls.watchers[ch]; ok {
					delete(ls.watchers, ch)
					close(ch)
				}
			})
		case <-c.done:
		}
	}()
	return ch, nil
}

// WaitSettled blocks until the auth decision is made and no profile fetch is in flight.
func (c *SessionCoordinator) WaitSettled(ctx context.Context) (domainauth.State, error) {
	if s := c.Snapshot(); s.Settled() {
		return s, nil
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	states, err := c.Watch(watchCtx)
	if err != nil {
		return c.Snapshot(), err
	}
	for s := range states {
		if s.Settled() {
			return s, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), ErrNotRunning
}

// SignIn delegates to the platform. State changes arrive through the SIGNED_IN event.
func (c *SessionCoordinator) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	if password == "" {
		return ErrPasswordRequired
	}
	if err := c.platform.SignInWithPassword(ctx, email, password); err != nil {
		if errors.Is(err, ports.ErrInvalidCredentials) {
			return ports.ErrInvalidCredentials
		}
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// SignOut always clears local state; platform failures are logged and swallowed.
func (c *SessionCoordinator) SignOut(ctx context.Context) {
	actor := ""
	if id := c.Snapshot().Identity; id != nil {
		actor = id.UserID
	}
	c.signOut(ctx, actor, AuditActionSignOut)
}

// ResetPassword asks the platform to send a recovery email.
func (c *SessionCoordinator) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	if err := c.platform.SendPasswordReset(ctx, email, c.resetRedirectURL); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

// CompleteRecovery consumes a recovery link token; the PASSWORD_RECOVERY event updates state.
func (c *SessionCoordinator) CompleteRecovery(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ports.ErrRecoveryLinkInvalid
	}
	return c.platform.CompleteRecovery(ctx, token)
}

// UpdatePassword completes a password-recovery flow.
func (c *SessionCoordinator) UpdatePassword(ctx context.Context, password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	snap := c.Snapshot()
	if snap.Session == nil {
		return ports.ErrNoSession
	}
	if !snap.PasswordRecovery {
		return ErrNotInRecovery
	}
	if err := c.platform.UpdateUser(ctx, ports.UserUpdate{Password: password}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return c.do(ctx, func(ls *loopState) { ls.state.PasswordRecovery = false })
}

// HasRole reports whether the current role set intersects roles.
func (c *SessionCoordinator) HasRole(roles ...domainauth.Role) bool {
	return c.current.Load().Roles.Has(roles...)
}

// CanAccessRegion applies the regional visibility rule to the current profile.
func (c *SessionCoordinator) CanAccessRegion(district string) bool {
	s := c.current.Load()
	return domainauth.CanAccessRegion(s.Profile, s.Roles, district)
}

// RefreshProfile re-runs a single profile fetch for the current identity, or waits for the
// fetch already in flight. No-op when signed out.
func (c *SessionCoordinator) RefreshProfile(ctx context.Context) error {
	var (
		userID string
		gen    uint64
		joined chan struct{}
	)
	if err := c.do(ctx, func(ls *loopState) {
		if ls.state.Identity == nil {
			return
		}
		if ls.fetching {
			joined = make(chan struct{})
			ls.fetchWaiters = append(ls.fetchWaiters, joined)
			return
		}
		userID = ls.state.Identity.UserID
		gen = c.beginFetch(ls, 1)
	}); err != nil {
		return err
	}
	if joined != nil {
		select {
		case <-joined:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrNotRunning
		}
	}
	if userID == "" {
		return nil
	}

	res := c.loadProfile(userID, 1)
	// The fetching flag was raised above, so the result must land even if ctx is done.
	return c.do(context.WithoutCancel(ctx), func(ls *loopState) { c.applyFetch(ls, gen, userID, res) })
}

// RecordActivity resets the inactivity timer while a session is present.
func (c *SessionCoordinator) RecordActivity(ctx context.Context, kind domainauth.ActivityKind) error {
	return c.do(ctx, func(ls *loopState) {
		if ls.state.Session == nil {
			return
		}
		c.logger.Debug("activity", "kind", kind)
		c.armIdle(ls)
	})
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
