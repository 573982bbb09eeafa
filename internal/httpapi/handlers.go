package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pet-battle-backend/internal/arena"
	"github.com/DoyleJ11/pet-battle-backend/internal/deadline"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	"github.com/DoyleJ11/pet-battle-backend/internal/hub"
	"github.com/DoyleJ11/pet-battle-backend/internal/types"
	pub "github.com/DoyleJ11/pet-battle-backend/pkg/types"
)

const ActorHeader = "X-Actor-ID"

type ctxKey int

const (
	actorKey ctxKey = iota
	battleKey
)

type API struct {
	hub   *hub.Hub
	rules engine.Rules
	log   *zap.Logger
}

func New(h *hub.Hub, rules engine.Rules, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{hub: h, rules: rules, log: log}
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type eventsBody struct {
	Events []pub.Event `json:"events"`
}

func (a *API) CreateBattle(w http.ResponseWriter, r *http.Request) {
	ar, err := a.hub.Create(r.Context(), actorFrom(r), a.rules)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Code string `json:"code"`
	}{Code: ar.Code()})
}

func (a *API) OpenRegistration(w http.ResponseWriter, r *http.Request) {
	a.do(w, r, engine.Command{Type: engine.CmdOpenRegistration, Actor: actorFrom(r)})
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PetID string `json:"pet_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.PetID) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Error: "pet_id is required"})
		return
	}

	events, err := battleFrom(r).Register(r.Context(), actorFrom(r), engine.ID(body.PetID))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsBody{Events: types.NewEvents(events)})
}

func (a *API) StartBattle(w http.ResponseWriter, r *http.Request) {
	a.do(w, r, engine.Command{Type: engine.CmdStartBattle, Actor: actorFrom(r)})
}

func (a *API) AddAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AdminID string `json:"admin_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	a.do(w, r, engine.Command{Type: engine.CmdAddAdmin, Actor: actorFrom(r), Target: engine.ID(body.AdminID)})
}

func (a *API) SubmitMove(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Move string `json:"move"`
	}
	if !decode(w, r, &body) {
		return
	}
	a.do(w, r, engine.Command{
		Type:   engine.CmdSubmitMove,
		Actor:  actorFrom(r),
		PairID: pairID,
		Move:   engine.Move(strings.ToLower(body.Move)),
	})
}

func (a *API) ResolveTimeout(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pairParam(w, r)
	if !ok {
		return
	}
	// The body is optional: {"pet_id": ...} names the participant the check is for.
	var body struct {
		PetID string `json:"pet_id"`
	}
	if r.ContentLength != 0 {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Error: "bad json"})
			return
		}
	}
	a.do(w, r, engine.Command{
		Type:   engine.CmdResolveTimeout,
		Actor:  actorFrom(r),
		PairID: pairID,
		Target: engine.ID(strings.TrimSpace(body.PetID)),
	})
}

func (a *API) GetBattle(w http.ResponseWriter, r *http.Request) {
	ar := battleFrom(r)
	v, err := ar.View(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewSnapshot(ar.Code(), v.Version, v.State, nil))
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) do(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	events, err := battleFrom(r).Do(r.Context(), cmd)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsBody{Events: types.NewEvents(events)})
}

// requireActor rejects requests without a caller identity.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Error: "missing " + ActorHeader})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, engine.ID(actor))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loadBattle resolves {code} to a hosted battle, restoring it if needed.
func (a *API) loadBattle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(chi.URLParam(r, "code"))
		ar, err := a.hub.Ensure(r.Context(), code)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if ar == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Error: "battle not found"})
			return
		}
		ctx := context.WithValue(r.Context(), battleKey, ar)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logRequests writes one line per request.
func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack hands the connection over to the websocket upgrade.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	s.status = http.StatusSwitchingProtocols
	return http.NewResponseController(s.ResponseWriter).Hijack()
}

func actorFrom(r *http.Request) engine.ID {
	id, _ := r.Context().Value(actorKey).(engine.ID)
	return id
}

func battleFrom(r *http.Request) *arena.Arena {
	ar, _ := r.Context().Value(battleKey).(*arena.Arena)
	return ar
}

func pairParam(w http.ResponseWriter, r *http.Request) (engine.PairID, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "pairID"))
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Error: "invalid pair id"})
		return 0, false
	}
	return engine.PairID(n), true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Error: "bad json"})
		return false
	}
	return true
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Code: types.ErrorCode(err), Error: err.Error()})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidPhase),
		errors.Is(err, engine.ErrCapacityExceeded),
		errors.Is(err, engine.ErrMoveAlreadySubmitted),
		errors.Is(err, engine.ErrNotEnoughPlayers),
		errors.Is(err, engine.ErrDeadlineNotReached):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnsupportedCommand), errors.Is(err, engine.ErrInvalidRules):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrIdentityUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrRandomUnavailable),
		errors.Is(err, deadline.ErrReservationExhausted),
		errors.Is(err, arena.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
