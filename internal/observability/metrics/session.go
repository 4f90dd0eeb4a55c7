package metrics

import (
	"time"

	obserrors "github.com/youthvoice/portal/internal/observability/errors"
	"github.com/youthvoice/portal/internal/observability/statsd"
)

// Result tags.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultNotFound = "not_found"
)

// Session lifecycle events counted under session.event.
const (
	EventSignIn        = "sign_in"
	EventSignOut       = "sign_out"
	EventIdleSignOut   = "idle_sign_out"
	EventSafetyTimeout = "safety_timeout"
	EventRecovery      = "password_recovery"
)

// EmitSessionEvent counts one session lifecycle event.
func EmitSessionEvent(sink statsd.Sink, event string) {
	if sink == nil {
		return
	}
	sink.Count("session.event", 1, map[string]string{"event": event})
}

// ProfileFetch describes a completed profile fetch sequence.
type ProfileFetch struct {
	Result   string
	Attempts int
	Duration time.Duration
	Err      error
}

// EmitProfileFetch records the outcome and latency of a profile fetch.
func EmitProfileFetch(sink statsd.Sink, in ProfileFetch) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	if in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("session.profile_fetch", 1, tags)
	if in.Attempts > 1 {
		sink.Count("session.profile_fetch.retries", int64(in.Attempts-1), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("session.profile_fetch.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
