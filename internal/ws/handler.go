package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/pet-battle-backend/internal/arena"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	"github.com/DoyleJ11/pet-battle-backend/internal/hub"
	"github.com/DoyleJ11/pet-battle-backend/internal/types"
)

// Handler streams committed snapshots of one battle and accepts commands
// from the connection. The caller identity comes from the X-Actor-ID header
// or the actor query parameter; without one the stream is read-only.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(r.URL.Query().Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		ar, err := h.Ensure(r.Context(), code)
		if err != nil {
			http.Error(w, "battle unavailable", http.StatusServiceUnavailable)
			return
		}
		if ar == nil {
			http.Error(w, "battle not found", http.StatusNotFound)
			return
		}

		actor := engine.ID(r.Header.Get("X-Actor-ID"))
		if actor == "" {
			actor = engine.ID(r.URL.Query().Get("actor"))
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan arena.Snapshot, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("battle", code), zap.String("client", clientID))

		ar.Inbox() <- arena.Join{ClientID: clientID, Outbox: out}
		defer func() {
			select {
			case ar.Inbox() <- arena.Leave{ClientID: clientID}:
			case <-ar.Done():
			}
		}()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				s := types.NewSnapshot(code, snap.Version, snap.State, snap.Events)
				if err := write(writeCtx, conn, types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, Snapshot: &s}); err != nil {
					clog.Debug("write snapshot", zap.Error(err))
				}
			}
			// The arena dropped us or shut down.
			conn.Close(websocket.StatusGoingAway, "battle stream closed")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Code: "bad_request", Error: "bad json"})
				continue
			}
			if actor == "" {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Code: "unauthorized", Error: "read-only stream"})
				continue
			}

			if err := dispatch(r.Context(), ar, cm, actor); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{Type: "Error", Code: types.ErrorCode(err), Error: err.Error()})
			}
		}
	}
}

// dispatch runs a client message. Successful commands answer through the
// snapshot stream; only failures are written back directly.
func dispatch(ctx context.Context, ar *arena.Arena, cm types.ClientMessage, actor engine.ID) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cm.Type == "Register" {
		_, err := ar.Register(ctx, actor, engine.ID(cm.PetID))
		return err
	}
	cmd, ok := types.ToCommand(cm, actor)
	if !ok {
		return engine.ErrUnsupportedCommand
	}
	_, err := ar.Do(ctx, cmd)
	return err
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
