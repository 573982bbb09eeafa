package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/pet-battle-backend/internal/arena"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	"github.com/DoyleJ11/pet-battle-backend/internal/hub"
	"github.com/DoyleJ11/pet-battle-backend/internal/identity"
	"github.com/DoyleJ11/pet-battle-backend/internal/types"
)

func setup(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zaptest.NewLogger(t)
	fetcher := identity.FetcherFunc(func(_ context.Context, petID engine.ID) (engine.Identity, error) {
		return engine.Identity{Owner: "owner-" + petID, Name: string(petID)}, nil
	})
	h := hub.NewHub(ctx, arena.Deps{Identity: fetcher, Random: engine.NewCounterSource(engine.HashEntropy([]byte("ws"))), Logger: log}, nil)
	ar, err := h.Create(ctx, "admin", engine.DefaultRules())
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(h, log))
	t.Cleanup(srv.Close)
	return srv, ar.Code()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func recvMsg(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, payload))
}

func TestHandler_StreamsSnapshotsAndAcceptsCommands(t *testing.T) {
	srv, code := setup(t)
	conn := dial(t, srv.URL+"?code="+code+"&actor=owner-a")

	first := recvMsg(t, conn)
	require.Equal(t, "StateSnapshot", first.Type)
	assert.Equal(t, 0, first.Version)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, "registration", first.Snapshot.Phase)

	send(t, conn, types.ClientMessage{Type: "Register", PetID: "a"})
	next := recvMsg(t, conn)
	require.Equal(t, "StateSnapshot", next.Type)
	assert.Equal(t, 1, next.Version)
	require.Len(t, next.Snapshot.Players, 1)
	assert.Equal(t, "owner-a", next.Snapshot.Players[0].Owner)
	require.Len(t, next.Snapshot.Events, 1)
	assert.Equal(t, "Registered", next.Snapshot.Events[0].Type)

	send(t, conn, types.ClientMessage{Type: "StartBattle"})
	errMsg := recvMsg(t, conn)
	assert.Equal(t, "Error", errMsg.Type)
	assert.Equal(t, "unauthorized", errMsg.Code)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("{")))
	errMsg = recvMsg(t, conn)
	assert.Equal(t, "bad_request", errMsg.Code)

	send(t, conn, types.ClientMessage{Type: "Dance"})
	errMsg = recvMsg(t, conn)
	assert.Equal(t, "unsupported_command", errMsg.Code)
}

func TestHandler_ReadOnlyWithoutActor(t *testing.T) {
	srv, code := setup(t)
	conn := dial(t, srv.URL+"?code="+code)
	_ = recvMsg(t, conn)

	send(t, conn, types.ClientMessage{Type: "Register", PetID: "a"})
	errMsg := recvMsg(t, conn)
	assert.Equal(t, "Error", errMsg.Type)
	assert.Equal(t, "unauthorized", errMsg.Code)
}

func TestHandler_RejectsUnknownBattle(t *testing.T) {
	srv, _ := setup(t)

	res, err := http.Get(srv.URL + "?code=NOPE00")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res2, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res2.StatusCode)
}
