package janusclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/metrics"
)

// PollBackoff is how long the long-poll task sleeps after any poll error
// before retrying (spec §4.5: "backs off 100ms before retrying").
const PollBackoff = 100 * time.Millisecond

// Sink receives dispatched poll events. The signaling orchestrator and
// event-ingress package implement it.
type Sink interface {
	Dispatch(ctx context.Context, backendID string, ev PollEvent)
}

// RunPoller issues poll requests against c indefinitely, dispatching
// results to sink, until ctx is canceled. It is meant to be started as its
// own goroutine, one per session, on `status online` (spec §4.5).
//
// A SessionNotFound response does not terminate the task: it logs a
// warning and continues, because the session is recreated on the next
// status online (spec §4.5).
func RunPoller(ctx context.Context, c *Client, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == ErrSessionNotFound {
				slog.Warn("janus poll: session not found, continuing", "backend_id", c.BackendID, "session_id", c.SessionID)
				metrics.JanusPollEvents.WithLabelValues(c.BackendID, "session_not_found").Inc()
				time.Sleep(PollBackoff)
				continue
			}
			slog.Error("janus poll failed", "backend_id", c.BackendID, "error", err)
			time.Sleep(PollBackoff)
			continue
		}

		ev := classify(env)
		metrics.JanusPollEvents.WithLabelValues(c.BackendID, string(ev.Kind)).Inc()

		if ev.Transaction != "" {
			if fired := c.Fire(ev.Transaction, env, nil); fired {
				continue
			}
			slog.Warn("janus poll: dropping response", "backend_id", c.BackendID, "transaction", ev.Transaction, "error", ErrUnknownTransaction)
			continue
		}

		sink.Dispatch(ctx, c.BackendID, ev)
	}
}

// classify maps a raw Janus long-poll envelope to the closed PollEventKind
// set (spec §4.5).
func classify(env Envelope) PollEvent {
	ev := PollEvent{
		HandleID:    env.HandleID,
		Transaction: env.Transaction,
		PluginData:  env.PluginData,
		Jsep:        env.Jsep,
	}

	switch env.Janus {
	case "keepalive":
		ev.Kind = EventKeepalive
	case "webrtcup":
		ev.Kind = EventWebRTCUp
	case "hangup":
		ev.Kind = EventHangup
	case "detached":
		ev.Kind = EventDetached
	case "media":
		ev.Kind = EventMedia
	case "slowlink":
		ev.Kind = EventSlowLink
	case "timeout":
		ev.Kind = EventTimeout
	case "event":
		ev.Kind = EventGeneric
	default:
		ev.Kind = EventGeneric
	}
	return ev
}

// DecodePluginData is a convenience helper for sinks that expect a
// specific plugin data shape out of ev.PluginData.
func DecodePluginData(ev PollEvent, out any) error {
	if len(ev.PluginData) == 0 {
		return nil
	}
	return json.Unmarshal(ev.PluginData, out)
}
