package engine

import (
	"maps"
	"slices"
	"time"
)

type ID string

type PairID int

type Move string

const (
	MoveAttack  Move = "attack"
	MoveDefence Move = "defence"
)

func (m Move) Valid() bool { return m == MoveAttack || m == MoveDefence }

type Phase string

const (
	PhaseRegistration     Phase = "registration"
	PhaseInProgress       Phase = "in_progress"
	PhaseWaitingNextRound Phase = "waiting_next_round"
	PhaseComplete         Phase = "complete"
)

type Stats struct {
	Power   int
	Defence int
	Health  int
}

// Identity is what the external pet service vouches for.
type Identity struct {
	Owner        ID
	Name         string
	RegisteredAt time.Time
}

type Player struct {
	PetID        ID
	Owner        ID
	Name         string
	RegisteredAt time.Time
	Stats        Stats
	Color        string
	Victories    int
}

// Pair is one match within a tournament round. Moves[i] is nil until side i
// submits. Token correlates the outstanding deadline check; a new token is
// minted every time the deadline moves.
type Pair struct {
	ID       PairID
	Round    int
	Players  [2]ID
	Moves    [2]*Move
	Rounds   int
	Terminal bool
	Bye      bool
	Winner   ID
	Deadline time.Time
	Token    string
}

// Side returns which side actor plays, matching either the pet or its owner.
func (p Pair) Side(actor ID, players map[ID]Player) (int, bool) {
	for i, id := range p.Players {
		if id == "" {
			continue
		}
		if id == actor || players[id].Owner == actor {
			return i, true
		}
	}
	return 0, false
}

// State is the battle aggregate. Apply never mutates a State it is handed.
type State struct {
	Admins          []ID
	Players         map[ID]Player
	Active          []ID
	Phase           Phase
	Winner          ID
	Round           int
	Pairs           map[PairID]Pair
	PlayerPairs     map[ID][]PairID
	CompletedRounds int
	NextPairID      PairID
	Reservations    map[ID]string
	Rules           Rules
}

func NewState(admin ID, rules Rules) State {
	return State{
		Admins:       []ID{admin},
		Players:      map[ID]Player{},
		Phase:        PhaseRegistration,
		Pairs:        map[PairID]Pair{},
		PlayerPairs:  map[ID][]PairID{},
		Reservations: map[ID]string{},
		Rules:        rules,
	}
}

// Clone returns a deep enough copy for Apply to mutate freely. Move pointers
// are shared because a set move is never written through.
func (s State) Clone() State {
	c := s
	c.Admins = slices.Clone(s.Admins)
	c.Active = slices.Clone(s.Active)
	c.Players = maps.Clone(s.Players)
	c.Pairs = maps.Clone(s.Pairs)
	c.Reservations = maps.Clone(s.Reservations)
	c.PlayerPairs = make(map[ID][]PairID, len(s.PlayerPairs))
	for id, ids := range s.PlayerPairs {
		c.PlayerPairs[id] = slices.Clone(ids)
	}
	if c.Players == nil {
		c.Players = map[ID]Player{}
	}
	if c.Pairs == nil {
		c.Pairs = map[PairID]Pair{}
	}
	if c.Reservations == nil {
		c.Reservations = map[ID]string{}
	}
	return c
}

func (s State) IsAdmin(id ID) bool {
	return slices.Contains(s.Admins, id)
}

// RoundPairs returns the pairs of a tournament round in pairing order.
func (s State) RoundPairs(round int) []Pair {
	var out []Pair
	for _, p := range s.Pairs {
		if p.Round == round {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Pair) int { return int(a.ID) - int(b.ID) })
	return out
}

// OpenPairs returns the non-terminal pairs, ordered by id.
func (s State) OpenPairs() []Pair {
	var out []Pair
	for _, p := range s.Pairs {
		if !p.Terminal {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Pair) int { return int(a.ID) - int(b.ID) })
	return out
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
