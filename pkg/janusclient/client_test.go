package janusclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionAndAttachHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Janus {
		case "create":
			resp := Envelope{Janus: "success", Data: mustJSON(map[string]int64{"id": 42})}
			_ = json.NewEncoder(w).Encode(resp)
		case "attach":
			resp := Envelope{Janus: "success", Data: mustJSON(map[string]int64{"id": 99})}
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	c := NewClient("backend-1", srv.URL)
	require.NoError(t, c.CreateSession(t.Context()))
	assert.EqualValues(t, 42, c.SessionID)

	require.NoError(t, c.AttachHandle(t.Context(), "janus.plugin.videoroom"))
	assert.EqualValues(t, 99, c.HandleID)
}

func TestStreamCreateSendsJsep(t *testing.T) {
	var seen Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_ = json.NewEncoder(w).Encode(Envelope{Janus: "success"})
	}))
	defer srv.Close()

	c := NewClient("backend-1", srv.URL)
	c.SessionID = 1
	jsep := &Jsep{Type: "offer", SDP: "v=0\r\n"}
	_, err := c.StreamCreate(t.Context(), 5, "cam", jsep)
	require.NoError(t, err)
	assert.Equal(t, "cam", decodeBodyLabel(t, seen))
	assert.Equal(t, jsep.SDP, seen.Jsep.SDP)
}

func decodeBodyLabel(t *testing.T, env Envelope) string {
	t.Helper()
	var body struct {
		Label string `json:"label"`
	}
	require.NoError(t, json.Unmarshal(env.Body, &body))
	return body.Label
}

func TestDoReturnsSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Envelope{Janus: "error", ErrorText: "No such session"})
	}))
	defer srv.Close()

	c := NewClient("backend-1", srv.URL)
	_, err := c.StreamRead(t.Context(), 5, "stream-1", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUploadStreamObservesMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Envelope{Janus: "success"})
	}))
	defer srv.Close()

	c := NewClient("backend-1", srv.URL)
	c.SessionID, c.HandleID = 1, 2
	_, err := c.UploadStream(t.Context(), UploadStreamRequest{
		RtcID: "rtc-1", Backend: "backend-1", Bucket: "b", Object: "o",
	})
	require.NoError(t, err)
}
