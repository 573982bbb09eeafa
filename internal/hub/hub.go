package hub

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pet-battle-backend/internal/arena"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
)

// Loader restores a battle persisted by an earlier process.
// *storage.Store implements it.
type Loader interface {
	LoadSnapshot(ctx context.Context, code string) (engine.State, int, bool, error)
}

type HubMsg interface{ isHubMsg() }

type CreateBattle struct {
	Code  string // generated when empty
	State engine.State
	Reply chan *arena.Arena
}

type GetBattle struct {
	Code  string
	Reply chan *arena.Arena
}

// EnsureBattle returns the hosted battle, restoring it from the Loader when
// this process is not hosting it yet. Reply gets nil when nothing is known.
type EnsureBattle struct {
	Code  string
	Reply chan *arena.Arena
}

type RemoveBattle struct {
	Code string
}

type ShutdownHub struct{}

func (CreateBattle) isHubMsg() {}
func (GetBattle) isHubMsg()    {}
func (EnsureBattle) isHubMsg() {}
func (RemoveBattle) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	inbox   chan HubMsg
	battles map[string]*arena.Arena
	deps    arena.Deps
	loader  Loader
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub starts the hub. deps is handed to every arena it creates; loader
// may be nil.
func NewHub(parent context.Context, deps arena.Deps, loader Loader) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		battles: make(map[string]*arena.Arena),
		deps:    deps,
		loader:  loader,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateBattle:
				code := msg.Code
				if code == "" {
					code = h.newCode()
				}
				if a := h.battles[code]; a != nil {
					msg.Reply <- a
					break
				}
				a := arena.NewArena(h.ctx, code, msg.State, 0, h.deps)
				h.battles[code] = a
				h.log.Info("battle created", zap.String("battle", code))
				msg.Reply <- a

			case GetBattle:
				msg.Reply <- h.battles[msg.Code] // May be nil

			case EnsureBattle:
				if a := h.battles[msg.Code]; a != nil {
					msg.Reply <- a
					break
				}
				msg.Reply <- h.restore(msg.Code)

			case RemoveBattle:
				if a := h.battles[msg.Code]; a != nil {
					a.Inbox() <- arena.Shutdown{}
					delete(h.battles, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) restore(code string) *arena.Arena {
	if h.loader == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	state, version, ok, err := h.loader.LoadSnapshot(ctx, code)
	if err != nil {
		h.log.Error("restore battle", zap.String("battle", code), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	a := arena.NewArena(h.ctx, code, state, version, h.deps)
	h.battles[code] = a
	h.log.Info("battle restored", zap.String("battle", code), zap.Int("version", version))
	return a
}

func (h *Hub) newCode() string {
	for {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		if _, taken := h.battles[code]; !taken {
			return code
		}
	}
}

func (h *Hub) shutdown() {
	for _, a := range h.battles {
		a.Inbox() <- arena.Shutdown{}
	}
	clear(h.battles)
	h.cancel()
}

// Create hosts a new battle administered by admin.
func (h *Hub) Create(ctx context.Context, admin engine.ID, rules engine.Rules) (*arena.Arena, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	reply := make(chan *arena.Arena, 1)
	return h.ask(ctx, CreateBattle{State: engine.NewState(admin, rules), Reply: reply}, reply)
}

// Ensure returns the battle for code, or nil when no such battle exists.
func (h *Hub) Ensure(ctx context.Context, code string) (*arena.Arena, error) {
	reply := make(chan *arena.Arena, 1)
	return h.ask(ctx, EnsureBattle{Code: code, Reply: reply}, reply)
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *arena.Arena) (*arena.Arena, error) {
	select {
	case h.inbox <- m:
	case <-h.done:
		return nil, arena.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case a := <-reply:
		return a, nil
	case <-h.done:
		return nil, arena.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
