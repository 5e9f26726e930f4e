package scribe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsReply struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

func dialTranscribe(t *testing.T, ts *testServer, query url.Values) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.scribe.Handler())
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe?" + query.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readReplies(t *testing.T, conn *websocket.Conn) []wsReply {
	t.Helper()
	var replies []wsReply
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			return replies
		}
		var reply wsReply
		require.NoError(t, json.Unmarshal(data, &reply))
		replies = append(replies, reply)
	}
}

func TestWebSocketPushesSegments(t *testing.T) {
	ts := newTestServer(t, consultation())
	conn := dialTranscribe(t, ts, url.Values{
		"content_type": {"audio/wav"},
		"filename":     {"consulta.wav"},
		"language":     {"pt"},
	})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("RIFF")))

	replies := readReplies(t, conn)
	require.Len(t, replies, 3)
	assert.Equal(t, messageSegment, replies[0].Type)
	assert.Equal(t, messageSegment, replies[1].Type)
	assert.Equal(t, messageResult, replies[2].Type)
	assert.NotEmpty(t, replies[0].RequestID)

	var result transcribeResponse
	require.NoError(t, json.Unmarshal(replies[2].Payload, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "Paciente com cefaleia há três dias.", result.Text)
	assert.Len(t, result.Segments, 2)
	assert.Empty(t, ts.stagedFiles(t))
}

func TestWebSocketRejectsUnsupportedType(t *testing.T) {
	ts := newTestServer(t, consultation())
	conn := dialTranscribe(t, ts, url.Values{"content_type": {"image/png"}})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("PNG")))

	replies := readReplies(t, conn)
	require.Len(t, replies, 1)
	assert.Equal(t, messageError, replies[0].Type)

	var payload wsErrorPayload
	require.NoError(t, json.Unmarshal(replies[0].Payload, &payload))
	assert.Equal(t, http.StatusBadRequest, payload.Status)
	assert.Equal(t, "unsupported file type: image/png", payload.Detail)
	assert.Empty(t, ts.backend.Calls())
}

func TestWebSocketRequiresBinaryMessage(t *testing.T) {
	ts := newTestServer(t, consultation())
	conn := dialTranscribe(t, ts, url.Values{"content_type": {"audio/wav"}})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	replies := readReplies(t, conn)
	require.Len(t, replies, 1)
	assert.Equal(t, messageError, replies[0].Type)
}

func TestWebSocketOriginCheck(t *testing.T) {
	ts := newTestServer(t, consultation(), func(c *Config) {
		c.AllowedOrigins = []string{"https://app.example.com"}
	})
	srv := httptest.NewServer(ts.scribe.Handler())
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe"
	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	conn.Close()
}
