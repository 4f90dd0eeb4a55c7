package sessionhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/youthvoice/portal/internal/domain/auth"
	"go.uber.org/goleak"
)

func recv(t *testing.T, ch <-chan domainauth.Event) domainauth.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domainauth.Event{}
	}
}

func TestHub_InitialEventThenPublished(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch := h.Subscribe(ctx, domainauth.Event{Kind: domainauth.EventInitialSession})
	h.Publish(domainauth.Event{Kind: domainauth.EventSignedIn, Session: &domainauth.Session{}})
	h.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})

	assert.Equal(t, domainauth.EventInitialSession, recv(t, ch).Kind)
	assert.Equal(t, domainauth.EventSignedIn, recv(t, ch).Kind)
	assert.Equal(t, domainauth.EventSignedOut, recv(t, ch).Kind)
	assert.Equal(t, 1, h.Len())

	cancel()
	for range ch {
	}
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_FanOut(t *testing.T) {
	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx, domainauth.Event{Kind: domainauth.EventInitialSession})
	b := h.Subscribe(ctx, domainauth.Event{Kind: domainauth.EventInitialSession})
	h.Publish(domainauth.Event{Kind: domainauth.EventTokenRefreshed})

	for _, ch := range []<-chan domainauth.Event{a, b} {
		assert.Equal(t, domainauth.EventInitialSession, recv(t, ch).Kind)
		assert.Equal(t, domainauth.EventTokenRefreshed, recv(t, ch).Kind)
	}
}
