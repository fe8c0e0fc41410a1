package conn_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	. "github.com/tobsdb/nanoq/internal/conn"
	"gotest.tools/assert"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWebsocketSession(t *testing.T) {
	db := newTestDatabase(t)
	srv := httptest.NewServer(NewServer(db).Handler())
	defer srv.Close()
	ws := dial(t, srv)

	assert.NilError(t, ws.WriteJSON(map[string]any{
		"action": "upsert", "table": "a", "data": map[string]any{"b": 1}, "__tdb_client_req_id__": 1,
	}))
	var res struct {
		Data    []map[string]any `json:"data"`
		Message string           `json:"message"`
		Status  int              `json:"status"`
		ReqId   int              `json:"__tdb_client_req_id__"`
	}
	assert.NilError(t, ws.ReadJSON(&res))
	assert.Equal(t, res.Status, 200, res.Message)
	assert.Equal(t, res.ReqId, 1)
	assert.DeepEqual(t, res.Data, []map[string]any{{"id": float64(1), "b": float64(1)}})

	assert.NilError(t, ws.WriteJSON(map[string]any{
		"action": "select", "table": "a", "where": []any{"id", "=", 1}, "__tdb_client_req_id__": 2,
	}))
	assert.NilError(t, ws.ReadJSON(&res))
	assert.Equal(t, res.ReqId, 2)
	assert.Equal(t, res.Message, "Found 1 rows in table a")

	t.Run("binary messages are rejected", func(t *testing.T) {
		assert.NilError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
		var res Response
		assert.NilError(t, ws.ReadJSON(&res))
		assert.Equal(t, res.Status, 400)
		assert.Equal(t, res.Message, "Expected a text message")
	})
}

func TestHealthAndMetrics(t *testing.T) {
	db := newTestDatabase(t)
	srv := httptest.NewServer(NewServer(db).Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL + "/health")
	assert.NilError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, string(body), "ok")

	dial(t, srv)
	res, err = srv.Client().Get(srv.URL + "/metrics")
	assert.NilError(t, err)
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	assert.Assert(t, strings.Contains(string(body), "nanoq_connections"))
}
