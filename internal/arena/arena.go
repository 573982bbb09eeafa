package arena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pet-battle-backend/internal/deadline"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	"github.com/DoyleJ11/pet-battle-backend/internal/identity"
)

var ErrClosed = errors.New("arena closed")

type Msg interface{ isArenaMsg() }

// FromClient carries any command except Register. Reply may be nil.
type FromClient struct {
	Cmd   engine.Command
	Reply chan Result
}

func (FromClient) isArenaMsg() {}

// Register starts the two-phase registration: the pet service is asked
// about PetID while the arena keeps serving other messages.
type Register struct {
	Actor engine.ID
	PetID engine.ID
	Reply chan Result
}

func (Register) isArenaMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isArenaMsg() {}

type Leave struct{ ClientID string }

func (Leave) isArenaMsg() {}

type Shutdown struct{}

func (Shutdown) isArenaMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isArenaMsg() {}

type timeoutFired struct {
	PairID engine.PairID
	Token  string
}

func (timeoutFired) isArenaMsg() {}

type identityResolved struct {
	token    string
	identity engine.Identity
	err      error
}

func (identityResolved) isArenaMsg() {}

type Result struct {
	Events []engine.Event
	Err    error
}

// Snapshot is a committed state. States handed out are never written to
// again: every commit replaces the arena's state with a fresh copy.
type Snapshot struct {
	Version int
	State   engine.State
	Events  []engine.Event
}

type View struct {
	Version    int
	NumClients int
	Pending    int
	State      engine.State
}

// Scheduler arms deferred deadline checks. *deadline.Trigger implements it.
type Scheduler interface {
	Schedule(key string, at time.Time, fn func()) (deadline.Reservation, error)
	Release(key string)
}

// Store persists committed snapshots. *storage.Store implements it.
type Store interface {
	SaveSnapshot(ctx context.Context, code string, version int, s engine.State) error
}

type Deps struct {
	Identity        identity.Fetcher
	Scheduler       Scheduler
	Store           Store
	Random          engine.Source
	Logger          *zap.Logger
	Now             func() time.Time
	IdentityTimeout time.Duration
	RetryDelay      time.Duration
}

type Arena struct {
	code    string
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Snapshot
	pending map[string]Register
	deps    Deps
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewArena(parent context.Context, code string, initial engine.State, version int, deps Deps) *Arena {
	ctx, cancel := context.WithCancel(parent)

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IdentityTimeout <= 0 {
		deps.IdentityTimeout = 5 * time.Second
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = time.Second
	}
	if deps.Random == nil {
		src, err := engine.NewProcessSource()
		if err != nil {
			deps.Logger.Error("no random source; draws will fail", zap.Error(err))
			deps.Random = unavailableSource{err: err}
		} else {
			deps.Random = src
		}
	}

	a := &Arena{
		code:    code,
		inbox:   make(chan Msg, 64), // Small buffer
		state:   initial,
		version: version,
		clients: make(map[string]chan Snapshot),
		pending: make(map[string]Register),
		deps:    deps,
		log:     deps.Logger.With(zap.String("battle", code)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go a.loop()
	return a
}

func (a *Arena) loop() {
	defer close(a.done)
	a.rearm()

	for {
		select {
		case <-a.ctx.Done():
			a.shutdown()
			return

		case m := <-a.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				a.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: a.version, State: a.state}

			case Leave:
				if ch, ok := a.clients[msg.ClientID]; ok {
					close(ch) // Ends the client's writer
					delete(a.clients, msg.ClientID)
				}

			case FromClient:
				cmd := msg.Cmd
				if cmd.At.IsZero() {
					cmd.At = a.deps.Now()
				}
				events, err := a.apply(cmd)
				reply(msg.Reply, Result{Events: events, Err: err})

			case Register:
				a.beginRegister(msg)

			case identityResolved:
				a.finishRegister(msg)

			case timeoutFired:
				a.handleTimeout(msg)

			case GetState:
				msg.Reply <- View{
					Version:    a.version,
					NumClients: len(a.clients),
					Pending:    len(a.pending),
					State:      a.state,
				}

			case Shutdown:
				a.shutdown()
				return
			}
		}
	}
}

// beginRegister runs the checks that do not need the pet service, then
// suspends the request until the lookup comes back through the inbox.
// Nothing in the battle state changes before that.
func (a *Arena) beginRegister(msg Register) {
	if err := engine.CanRegister(a.state, msg.PetID); err != nil {
		reply(msg.Reply, Result{Err: err})
		return
	}
	if a.deps.Identity == nil {
		reply(msg.Reply, Result{Err: fmt.Errorf("%w: no pet service configured", engine.ErrIdentityUnavailable)})
		return
	}

	token := uuid.NewString()
	a.pending[token] = msg
	go a.fetch(token, msg.PetID)
}

func (a *Arena) fetch(token string, petID engine.ID) {
	ctx, cancel := context.WithTimeout(a.ctx, a.deps.IdentityTimeout)
	defer cancel()

	info, err := a.deps.Identity.Fetch(ctx, petID)
	a.post(identityResolved{token: token, identity: info, err: err})
}

func (a *Arena) finishRegister(msg identityResolved) {
	req, ok := a.pending[msg.token]
	if !ok {
		return
	}
	delete(a.pending, msg.token)

	if msg.err != nil {
		a.log.Warn("identity lookup failed", zap.String("pet", string(req.PetID)), zap.Error(msg.err))
		err := msg.err
		if !errors.Is(err, engine.ErrIdentityUnavailable) {
			err = fmt.Errorf("%w: %v", engine.ErrIdentityUnavailable, err)
		}
		reply(req.Reply, Result{Err: err})
		return
	}

	events, err := a.apply(engine.Command{
		Type:     engine.CmdRegister,
		Actor:    req.Actor,
		At:       a.deps.Now(),
		Target:   req.PetID,
		Identity: msg.identity,
	})
	reply(req.Reply, Result{Events: events, Err: err})
}

func (a *Arena) handleTimeout(msg timeoutFired) {
	_, err := a.apply(engine.Command{
		Type:   engine.CmdResolveTimeout,
		At:     a.deps.Now(),
		PairID: msg.PairID,
		Token:  msg.Token,
	})
	if err == nil {
		return
	}

	a.log.Warn("deadline check failed", zap.Int("pair", int(msg.PairID)), zap.Error(err))
	if errors.Is(err, engine.ErrRandomUnavailable) {
		a.arm(msg.PairID, a.deps.Now().Add(a.deps.RetryDelay), msg.Token)
	}
}

// apply runs cmd against the committed state and, when it produced events,
// commits the result: deadlines are armed, the snapshot is persisted and
// broadcast.
func (a *Arena) apply(cmd engine.Command) ([]engine.Event, error) {
	events, next, err := engine.Apply(a.state, cmd, a.deps.Random)
	if err != nil {
		a.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.String("actor", string(cmd.Actor)), zap.Error(err))
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	a.state = next
	a.afterCommit(events)

	a.version++
	for _, e := range events {
		a.logEvent(e)
	}
	a.persist()
	a.broadcast(Snapshot{Version: a.version, State: a.state, Events: events})
	return events, nil
}

func (a *Arena) afterCommit(events []engine.Event) {
	for _, e := range events {
		switch e.Type {
		case engine.EvtDeadlineSet:
			a.arm(e.PairID, e.Deadline, e.Token)
		case engine.EvtPairCompleted:
			if a.deps.Scheduler != nil {
				a.deps.Scheduler.Release(a.pairKey(e.PairID))
			}
		}
	}
}

// arm schedules the deadline check for a pair. Failing to get a reservation
// is not fatal: the pair just will not be resolved automatically.
func (a *Arena) arm(pairID engine.PairID, at time.Time, token string) {
	if a.deps.Scheduler == nil {
		a.log.Warn("no scheduler; deadline check not armed", zap.Int("pair", int(pairID)))
		return
	}

	res, err := a.deps.Scheduler.Schedule(a.pairKey(pairID), at, func() {
		a.post(timeoutFired{PairID: pairID, Token: token})
	})
	if err != nil {
		a.log.Warn("deadline check not armed", zap.Int("pair", int(pairID)), zap.Time("deadline", at), zap.Error(err))
		return
	}

	_, next, err := engine.Apply(a.state, engine.Command{Type: engine.CmdTrackReservation, PairID: pairID, Token: res.ID}, nil)
	if err == nil {
		a.state = next
	}
}

// rearm re-arms the checks of a state restored from storage.
func (a *Arena) rearm() {
	for _, p := range a.state.OpenPairs() {
		if p.Token != "" {
			a.arm(p.ID, p.Deadline, p.Token)
		}
	}
}

func (a *Arena) persist() {
	if a.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(a.ctx, 2*time.Second)
	defer cancel()
	if err := a.deps.Store.SaveSnapshot(ctx, a.code, a.version, a.state); err != nil {
		a.log.Error("persist snapshot", zap.Int("version", a.version), zap.Error(err))
	}
}

func (a *Arena) logEvent(e engine.Event) {
	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.PairID != 0 {
		fields = append(fields, zap.Int("pair", int(e.PairID)))
	}
	if e.Player != "" {
		fields = append(fields, zap.String("player", string(e.Player)))
	}
	switch e.Type {
	case engine.EvtRoundResolved:
		fields = append(fields, zap.Ints("health", e.Health[:]), zap.Bool("forced", e.Forced))
	case engine.EvtDeadlineSet:
		fields = append(fields, zap.Time("deadline", e.Deadline))
	case engine.EvtReservationTracked:
		return
	}
	a.log.Info("battle event", fields...)
}

func (a *Arena) pairKey(id engine.PairID) string {
	return fmt.Sprintf("%s/%d", a.code, id)
}

// post delivers an internal message unless the arena is gone.
func (a *Arena) post(m Msg) {
	select {
	case a.inbox <- m:
	case <-a.ctx.Done():
	}
}

func (a *Arena) shutdown() {
	for id, ch := range a.clients {
		close(ch) // Tell client no more snapshots
		delete(a.clients, id)
	}
	for token, req := range a.pending {
		reply(req.Reply, Result{Err: ErrClosed})
		delete(a.pending, token)
	}
	if a.deps.Scheduler != nil {
		for _, p := range a.state.OpenPairs() {
			a.deps.Scheduler.Release(a.pairKey(p.ID))
		}
	}
	a.cancel()
}

func (a *Arena) broadcast(snap Snapshot) {
	for id, ch := range a.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(a.clients, id)
		}
	}
}

// unavailableSource fails every draw, so commands needing randomness are
// rejected with engine.ErrRandomUnavailable instead of crashing the loop.
type unavailableSource struct{ err error }

func (u unavailableSource) Value(int) (int, error) { return 0, u.err }

func reply(ch chan Result, r Result) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (a *Arena) Inbox() chan<- Msg { return a.inbox }

func (a *Arena) Code() string { return a.code }

// Done is closed once the loop has exited.
func (a *Arena) Done() <-chan struct{} { return a.done }

// Do sends cmd and waits for its result.
func (a *Arena) Do(ctx context.Context, cmd engine.Command) ([]engine.Event, error) {
	r := make(chan Result, 1)
	return a.await(ctx, FromClient{Cmd: cmd, Reply: r}, r)
}

// Register validates petID with the pet service and registers it. Other
// messages keep flowing while the lookup is outstanding.
func (a *Arena) Register(ctx context.Context, actor, petID engine.ID) ([]engine.Event, error) {
	r := make(chan Result, 1)
	return a.await(ctx, Register{Actor: actor, PetID: petID, Reply: r}, r)
}

func (a *Arena) View(ctx context.Context) (View, error) {
	r := make(chan View, 1)
	select {
	case a.inbox <- GetState{Reply: r}:
	case <-a.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-r:
		return v, nil
	case <-a.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (a *Arena) await(ctx context.Context, m Msg, r chan Result) ([]engine.Event, error) {
	select {
	case a.inbox <- m:
	case <-a.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-r:
		return res.Events, res.Err
	case <-a.done:
		// shutdown may have answered just before closing
		select {
		case res := <-r:
			return res.Events, res.Err
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
