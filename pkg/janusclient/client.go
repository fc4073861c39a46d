package janusclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foxford-conf/conferenced/internal/v1/id"
	"github.com/foxford-conf/conferenced/internal/v1/metrics"
	"github.com/sony/gobreaker"
)

// DefaultResponseTimeout is janus_response_timeout (spec §4.4, §7).
const DefaultResponseTimeout = 10 * time.Second

// Client is one backend's HTTP connection: base URL, the session and
// long-lived service handle allocated on `status online` (spec §4.5), and
// the waitlist its poller fires responses into.
type Client struct {
	BackendID string
	BaseURL   string
	SessionID int64
	HandleID  int64

	http     *http.Client
	cb       *gobreaker.CircuitBreaker
	waitlist *Waitlist
}

// NewClient dials nothing itself: it wraps an already-known base URL with a
// circuit breaker, mirroring the teacher's per-dependency gobreaker wiring
// (pkg/janusclient's predecessor, the teacher's sfuclient.go). CreateSession
// and AttachHandle populate SessionID/HandleID.
func NewClient(backendID, baseURL string) *Client {
	st := gobreaker.Settings{
		Name:        "janus:" + backendID,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}
	return &Client{
		BackendID: backendID,
		BaseURL:   baseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		cb:        gobreaker.NewCircuitBreaker(st),
		waitlist:  NewWaitlist(),
	}
}

func newTransaction() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// do posts env to path, observing the circuit breaker and Janus request
// metrics (spec §4.5, JanusRequestsTotal/JanusRequestDuration).
func (c *Client) do(ctx context.Context, tag Tag, path string, env Envelope) (Envelope, error) {
	start := time.Now()
	status := "ok"

	resultAny, err := c.cb.Execute(func() (any, error) {
		body, merr := json.Marshal(env)
		if merr != nil {
			return Envelope{}, fmt.Errorf("marshal janus envelope: %w", merr)
		}

		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
		if rerr != nil {
			return Envelope{}, rerr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, derr := c.http.Do(req)
		if derr != nil {
			return Envelope{}, derr
		}
		defer resp.Body.Close()

		raw, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return Envelope{}, rerr
		}

		var out Envelope
		if uerr := json.Unmarshal(raw, &out); uerr != nil {
			return Envelope{}, fmt.Errorf("decode janus response: %w", uerr)
		}
		if out.Janus == "error" {
			if isSessionNotFound(out.ErrorText) {
				return out, ErrSessionNotFound
			}
			return out, fmt.Errorf("janus error: %s", out.ErrorText)
		}
		return out, nil
	})

	metrics.JanusRequestDuration.WithLabelValues(string(tag)).Observe(time.Since(start).Seconds())

	if err != nil {
		if err == gobreaker.ErrOpenState {
			status = "circuit_open"
			metrics.CircuitBreakerFailures.WithLabelValues("janus:" + c.BackendID).Inc()
		} else if err == ErrSessionNotFound {
			status = "session_not_found"
		} else {
			status = "error"
		}
		metrics.JanusRequestsTotal.WithLabelValues(string(tag), status).Inc()
		if env, ok := resultAny.(Envelope); ok {
			return env, err
		}
		return Envelope{}, err
	}

	metrics.JanusRequestsTotal.WithLabelValues(string(tag), status).Inc()
	return resultAny.(Envelope), nil
}

func isSessionNotFound(errText string) bool {
	return errText == "No such session" || errText == "session not found"
}

// CreateSession issues the initial Janus session.create call.
func (c *Client) CreateSession(ctx context.Context) error {
	resp, err := c.do(ctx, TagCreateSession, "/janus", Envelope{
		Janus:       "create",
		Transaction: newTransaction(),
	})
	if err != nil {
		return err
	}
	var data struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("decode create_session response: %w", err)
	}
	c.SessionID = data.ID
	return nil
}

// AttachHandle allocates the long-lived service handle used for registry
// and reader/writer config requests (spec §4.5/§4.7).
func (c *Client) AttachHandle(ctx context.Context, plugin string) error {
	resp, err := c.do(ctx, TagAttach, c.sessionPath(), Envelope{
		Janus:       "attach",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		Body:        mustJSON(map[string]string{"plugin": plugin}),
	})
	if err != nil {
		return err
	}
	var data struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("decode attach response: %w", err)
	}
	c.HandleID = data.ID
	return nil
}

// AttachNewHandle allocates a fresh per-agent plugin handle without
// mutating the client's own service handle (spec §4.4 connect step "e":
// each connecting agent gets its own handle, distinct from the backend's
// long-lived service handle AttachHandle populates).
func (c *Client) AttachNewHandle(ctx context.Context, plugin string) (int64, error) {
	resp, err := c.do(ctx, TagAttach, c.sessionPath(), Envelope{
		Janus:       "attach",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		Body:        mustJSON(map[string]string{"plugin": plugin}),
	})
	if err != nil {
		return 0, err
	}
	var data struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, fmt.Errorf("decode attach response: %w", err)
	}
	return data.ID, nil
}

// SessionIDTyped returns the client's session id as a typed value.
func (c *Client) SessionIDTyped() id.SessionID { return id.SessionID(c.SessionID) }

func (c *Client) sessionPath() string {
	return fmt.Sprintf("/janus/%d", c.SessionID)
}

func (c *Client) handlePath() string {
	return fmt.Sprintf("/janus/%d/%d", c.SessionID, c.HandleID)
}

// StreamCreate sends stream.create for a new publisher stream (spec §4.4,
// §6).
func (c *Client) StreamCreate(ctx context.Context, handleID int64, label string, jsep *Jsep) (Envelope, error) {
	return c.do(ctx, TagCreateStream, fmt.Sprintf("/janus/%d/%d", c.SessionID, handleID), Envelope{
		Janus:       "message",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    handleID,
		Body:        mustJSON(map[string]string{"request": "stream.create", "label": label}),
		Jsep:        jsep,
	})
}

// StreamRead sends stream.read for a subscriber offer (spec §4.4, §6).
func (c *Client) StreamRead(ctx context.Context, handleID int64, streamID string, jsep *Jsep) (Envelope, error) {
	return c.do(ctx, TagReadStream, fmt.Sprintf("/janus/%d/%d", c.SessionID, handleID), Envelope{
		Janus:       "message",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    handleID,
		Body:        mustJSON(map[string]string{"request": "stream.read", "stream_id": streamID}),
		Jsep:        jsep,
	})
}

// UpdateReaderConfig sends a batched reader_config.update (spec §4.3, §6).
func (c *Client) UpdateReaderConfig(ctx context.Context, entries []ReaderConfigEntry) (Envelope, error) {
	return c.do(ctx, TagUpdateReaderConfig, c.handlePath(), Envelope{
		Janus:       "message",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    c.HandleID,
		Body: mustJSON(map[string]any{
			"request": "reader_config.update",
			"configs": entries,
		}),
	})
}

// UpdateWriterConfig sends a batched writer_config.update (spec §4.3, §6).
func (c *Client) UpdateWriterConfig(ctx context.Context, entries []WriterConfigEntry) (Envelope, error) {
	return c.do(ctx, TagUpdateWriterConfig, c.handlePath(), Envelope{
		Janus:       "message",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    c.HandleID,
		Body: mustJSON(map[string]any{
			"request": "writer_config.update",
			"configs": entries,
		}),
	})
}

// UploadStream requests recording upload for one RTC (spec §4.6, §6). It is
// fire-and-forget from the core's perspective: the caller does not await
// the result beyond confirming the request was accepted.
func (c *Client) UploadStream(ctx context.Context, req UploadStreamRequest) (Envelope, error) {
	resp, err := c.do(ctx, TagUploadStream, c.handlePath(), Envelope{
		Janus:       "message",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    c.HandleID,
		Body:        mustJSON(map[string]any{"request": "upload.stream", "upload": req}),
	})
	if err != nil {
		metrics.UploadsRequested.WithLabelValues("error").Inc()
		return resp, err
	}
	metrics.UploadsRequested.WithLabelValues("ok").Inc()
	return resp, nil
}

// Trickle forwards an ICE candidate (spec §4.4).
func (c *Client) Trickle(ctx context.Context, handleID int64, candidate string) error {
	_, err := c.do(ctx, TagTrickle, fmt.Sprintf("/janus/%d/%d", c.SessionID, handleID), Envelope{
		Janus:       "trickle",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    handleID,
		Body:        mustJSON(map[string]string{"candidate": candidate}),
	})
	return err
}

// Detach tears down a per-agent handle on leave/disconnect (spec §4.5 tag
// AgentLeave).
func (c *Client) Detach(ctx context.Context, handleID int64) error {
	_, err := c.do(ctx, TagAgentLeave, fmt.Sprintf("/janus/%d/%d", c.SessionID, handleID), Envelope{
		Janus:       "detach",
		Transaction: newTransaction(),
		SessionID:   c.SessionID,
		HandleID:    handleID,
	})
	return err
}

// Poll issues a single long-poll GET against the session's event channel.
// The poller task (poller.go) calls this in a loop.
func (c *Client) Poll(ctx context.Context) (Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+c.sessionPath(), nil)
	if err != nil {
		return Envelope{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Envelope{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, err
	}
	var out Envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		return Envelope{}, fmt.Errorf("decode poll response: %w", err)
	}
	if out.Janus == "error" && isSessionNotFound(out.ErrorText) {
		return out, ErrSessionNotFound
	}
	return out, nil
}

// Fire delivers a response to the waiter Await registered for its
// transaction, for responses that arrive asynchronously via the
// poller rather than inline on the POST (spec §4.4, "Correlation").
func (c *Client) Fire(transaction string, env Envelope, err error) bool {
	return c.waitlist.Fire(transaction, Result{Envelope: env, Err: err})
}

// Await blocks for the response to a transaction registered out-of-band,
// one delivered via the poller rather than the POST response body.
func (c *Client) Await(ctx context.Context, transaction string, timeout time.Duration) (Envelope, error) {
	ch := c.waitlist.Register(transaction)
	return c.waitlist.Await(ctx, transaction, ch, timeout)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
