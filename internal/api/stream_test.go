package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
	Seq     int64           `json:"seq"`
	Initial bool            `json:"initial"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestStream_FiltersByCode(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewRouter(Deps{Query: nil, Hub: hub}))
	defer srv.Close()

	conn := dial(t, srv, "?codes=US.AAPL")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("HK.00700", []byte(`{"price":300}`))
	hub.Broadcast("US.AAPL", []byte(`{"price":180}`))

	env := read(t, conn)
	assert.Equal(t, "US.AAPL", env.Code)
	assert.Equal(t, int64(1), env.Seq)
	assert.JSONEq(t, `{"price":180}`, string(env.Data))
}

func TestStream_InitialStateAndReplay(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 3; i++ {
		hub.Broadcast("US.AAPL", []byte(`{"n":`+string(rune('0'+i))+`}`))
	}
	srv := httptest.NewServer(NewRouter(Deps{Hub: hub}))
	defer srv.Close()

	latest := read(t, dial(t, srv, ""))
	assert.True(t, latest.Initial)
	assert.Equal(t, int64(3), latest.Seq)

	replay := dial(t, srv, "?since_seq=1")
	assert.Equal(t, int64(2), read(t, replay).Seq)
	assert.Equal(t, int64(3), read(t, replay).Seq)
}

func TestReplayBuffer_Wraps(t *testing.T) {
	rb := NewReplayBuffer(3)
	for seq := int64(1); seq <= 5; seq++ {
		rb.Push(seq, []byte{byte(seq)})
	}
	assert.Equal(t, 3, rb.Len())

	got := rb.Range(0, 100)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Len(t, rb.Range(4, 4), 1)
}
