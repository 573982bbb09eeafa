package types

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/pet-battle-backend/internal/arena"
	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
	pub "github.com/DoyleJ11/pet-battle-backend/pkg/types"
)

// ClientMessage is a command sent over the websocket.
type ClientMessage struct {
	Type    string `json:"type"` // "Register" | "SubmitMove" | "StartBattle" | "OpenRegistration" | "AddAdmin" | "ResolveTimeout"
	PetID   string `json:"pet_id,omitempty"`
	AdminID string `json:"admin_id,omitempty"`
	PairID  int    `json:"pair_id,omitempty"`
	Move    string `json:"move,omitempty"`
}

type ServerMessage struct {
	Type     string        `json:"type"` // "StateSnapshot" | "Error"
	Version  int           `json:"version,omitempty"`
	Snapshot *pub.Snapshot `json:"snapshot,omitempty"`
	Code     string        `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ToCommand maps a websocket message onto an engine command for actor.
// Register is not in here: it goes through Arena.Register.
func ToCommand(m ClientMessage, actor engine.ID) (engine.Command, bool) {
	switch m.Type {
	case "OpenRegistration":
		return engine.Command{Type: engine.CmdOpenRegistration, Actor: actor}, true
	case "StartBattle":
		return engine.Command{Type: engine.CmdStartBattle, Actor: actor}, true
	case "AddAdmin":
		return engine.Command{Type: engine.CmdAddAdmin, Actor: actor, Target: engine.ID(m.AdminID)}, true
	case "SubmitMove":
		return engine.Command{Type: engine.CmdSubmitMove, Actor: actor, PairID: engine.PairID(m.PairID), Move: engine.Move(strings.ToLower(m.Move))}, true
	case "ResolveTimeout":
		// PetID optionally names the participant the check is made for.
		return engine.Command{Type: engine.CmdResolveTimeout, Actor: actor, PairID: engine.PairID(m.PairID), Target: engine.ID(m.PetID)}, true
	default:
		return engine.Command{}, false
	}
}

// ErrorCode is the stable name clients see for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, engine.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, engine.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, engine.ErrUnknownPair):
		return "unknown_pair"
	case errors.Is(err, engine.ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, engine.ErrMoveAlreadySubmitted):
		return "move_already_submitted"
	case errors.Is(err, engine.ErrIdentityUnavailable):
		return "identity_unavailable"
	case errors.Is(err, engine.ErrRandomUnavailable):
		return "random_unavailable"
	case errors.Is(err, engine.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, engine.ErrDeadlineNotReached):
		return "deadline_not_reached"
	case errors.Is(err, engine.ErrUnsupportedCommand):
		return "unsupported_command"
	case errors.Is(err, engine.ErrInvalidRules):
		return "invalid_rules"
	case errors.Is(err, arena.ErrClosed):
		return "battle_closed"
	default:
		return "internal"
	}
}

// NewSnapshot renders a committed state for clients.
func NewSnapshot(code string, version int, s engine.State, events []engine.Event) pub.Snapshot {
	snap := pub.Snapshot{
		Version:         version,
		Code:            code,
		Phase:           string(s.Phase),
		Round:           s.Round,
		CompletedRounds: s.CompletedRounds,
		Winner:          string(s.Winner),
		Admins:          make([]string, 0, len(s.Admins)),
		Players:         make([]pub.Player, 0, len(s.Players)),
		Pairs:           make([]pub.Pair, 0, len(s.Pairs)),
		Rules:           newRules(s.Rules),
		GeneratedAt:     time.Now().UTC(),
	}
	for _, id := range s.Admins {
		snap.Admins = append(snap.Admins, string(id))
	}

	for _, p := range s.Players {
		snap.Players = append(snap.Players, pub.Player{
			PetID:       string(p.PetID),
			Owner:       string(p.Owner),
			Name:        p.Name,
			DateOfBirth: p.RegisteredAt,
			Power:       p.Stats.Power,
			Defence:     p.Stats.Defence,
			Health:      p.Stats.Health,
			Color:       p.Color,
			Victories:   p.Victories,
			Active:      slices.Contains(s.Active, p.PetID),
		})
	}
	slices.SortFunc(snap.Players, func(a, b pub.Player) int { return strings.Compare(a.PetID, b.PetID) })

	for _, p := range s.Pairs {
		snap.Pairs = append(snap.Pairs, pub.Pair{
			ID:        int(p.ID),
			Round:     p.Round,
			Players:   [2]string{string(p.Players[0]), string(p.Players[1])},
			Submitted: [2]bool{p.Moves[0] != nil, p.Moves[1] != nil},
			Rounds:    p.Rounds,
			Terminal:  p.Terminal,
			Bye:       p.Bye,
			Winner:    string(p.Winner),
			Deadline:  p.Deadline,
		})
	}
	slices.SortFunc(snap.Pairs, func(a, b pub.Pair) int { return a.ID - b.ID })

	snap.Events = NewEvents(events)
	return snap
}

// NewEvents renders an event log, leaving out bookkeeping events.
func NewEvents(events []engine.Event) []pub.Event {
	var out []pub.Event
	for _, e := range events {
		if e.Type == engine.EvtReservationTracked {
			continue
		}
		out = append(out, newEvent(e))
	}
	return out
}

func newEvent(e engine.Event) pub.Event {
	out := pub.Event{
		Type:   string(e.Type),
		Player: string(e.Player),
		PairID: int(e.PairID),
		Round:  e.Round,
		Forced: e.Forced,
	}
	switch e.Type {
	case engine.EvtRoundResolved:
		health := e.Health
		var moves [2]string
		for i, m := range e.Moves {
			if m != nil {
				moves[i] = string(*m)
			}
		}
		out.Health, out.Moves = &health, &moves
	case engine.EvtDeadlineSet:
		d := e.Deadline
		out.Deadline = &d
	}
	for _, id := range e.Pairs {
		out.Pairs = append(out.Pairs, int(id))
	}
	return out
}

func newRules(r engine.Rules) pub.Rules {
	return pub.Rules{
		MaxPower:         r.MaxPower,
		MinRange:         r.MinRange,
		MaxRange:         r.MaxRange,
		DefenceBoost:     r.DefenceBoost,
		StartingHealth:   r.StartingHealth,
		MaxParticipants:  r.MaxParticipants,
		MaxRoundsPerPair: r.MaxRoundsPerPair,
		MoveWindowMS:     r.MoveWindow.Milliseconds(),
		AutoAdvance:      r.AutoAdvance,
	}
}
