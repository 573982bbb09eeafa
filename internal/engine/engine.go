package engine

import (
	"fmt"
	"slices"
	"time"
)

type CommandType string

const (
	CmdOpenRegistration CommandType = "OpenRegistration"
	CmdRegister         CommandType = "Register"
	CmdStartBattle      CommandType = "StartBattle"
	CmdAddAdmin         CommandType = "AddAdmin"
	CmdSubmitMove       CommandType = "SubmitMove"
	CmdResolveTimeout   CommandType = "ResolveTimeout"
	CmdTrackReservation CommandType = "TrackReservation"
)

/*
	CmdOpenRegistration -> EvtRegistrationOpened
	CmdRegister         -> EvtRegistered
	CmdStartBattle      -> EvtBattleStarted | EvtNewRound -> (EvtPairOpened -> EvtDeadlineSet)* -> EvtBye?
	CmdAddAdmin         -> EvtAdminAdded
	CmdSubmitMove       -> EvtMoveAccepted -> [round resolution]
	CmdResolveTimeout   -> [round resolution] (nothing when stale)

	round resolution    -> EvtRoundResolved -> EvtDeadlineSet | EvtPairCompleted -> [progression]
	progression         -> EvtTournamentComplete | EvtWaitingNextRound -> (EvtNewRound ...)?
*/

// Command is one inbound request. Actor is the caller; At is the time the
// host delivered it.
type Command struct {
	Type     CommandType
	Actor    ID
	At       time.Time
	Target   ID
	Identity Identity
	PairID   PairID
	Move     Move
	Token    string
}

type EventType string

const (
	EvtRegistrationOpened EventType = "RegistrationOpened"
	EvtRegistered         EventType = "Registered"
	EvtAdminAdded         EventType = "AdminAdded"
	EvtBattleStarted      EventType = "BattleStarted"
	EvtPairOpened         EventType = "PairOpened"
	EvtBye                EventType = "Bye"
	EvtMoveAccepted       EventType = "MoveAccepted"
	EvtRoundResolved      EventType = "RoundResolved"
	EvtDeadlineSet        EventType = "DeadlineSet"
	EvtPairCompleted      EventType = "PairCompleted"
	EvtWaitingNextRound   EventType = "WaitingNextRound"
	EvtNewRound           EventType = "NewRound"
	EvtTournamentComplete EventType = "TournamentComplete"
	EvtReservationTracked EventType = "ReservationTracked"
)

type Event struct {
	Type     EventType
	Player   ID
	PairID   PairID
	Round    int
	Health   [2]int
	Moves    [2]*Move
	Forced   bool
	Deadline time.Time
	Token    string
	Pairs    []PairID
}

// Apply runs cmd against a copy of s. On error the original state is returned
// untouched, so a failed command is never partially applied.
func Apply(s State, cmd Command, rng Source) ([]Event, State, error) {
	next := s.Clone()

	var events []Event
	var err error
	switch cmd.Type {
	case CmdOpenRegistration:
		events, err = next.openRegistration(cmd)
	case CmdRegister:
		events, err = next.register(cmd, rng)
	case CmdStartBattle:
		events, err = next.startBattle(cmd, rng)
	case CmdAddAdmin:
		events, err = next.addAdmin(cmd)
	case CmdSubmitMove:
		events, err = next.submitMove(cmd, rng)
	case CmdResolveTimeout:
		events, err = next.resolveTimeout(cmd, rng)
	case CmdTrackReservation:
		events = next.trackReservation(cmd)
	default:
		err = ErrUnsupportedCommand
	}
	if err != nil {
		return nil, s, err
	}
	return events, next, nil
}

func (s *State) openRegistration(cmd Command) ([]Event, error) {
	if !s.IsAdmin(cmd.Actor) {
		return nil, ErrUnauthorized
	}
	if s.Phase != PhaseRegistration && s.Phase != PhaseComplete {
		return nil, ErrAlreadyInProgress
	}

	s.Players = map[ID]Player{}
	s.Active = nil
	s.Phase = PhaseRegistration
	s.Winner = ""
	s.Round = 0
	s.Pairs = map[PairID]Pair{}
	s.PlayerPairs = map[ID][]PairID{}
	s.CompletedRounds = 0
	s.Reservations = map[ID]string{}

	return []Event{{Type: EvtRegistrationOpened}}, nil
}

// CanRegister is the check done before the identity lookup suspends the
// caller. It never mutates s.
func CanRegister(s State, petID ID) error {
	if s.Phase != PhaseRegistration {
		return ErrAlreadyInProgress
	}
	if _, ok := s.Players[petID]; ok {
		return nil
	}
	if len(s.Players) >= s.Rules.MaxParticipants {
		return ErrCapacityExceeded
	}
	return nil
}

func (s *State) register(cmd Command, rng Source) ([]Event, error) {
	petID := cmd.Target
	if err := CanRegister(*s, petID); err != nil {
		return nil, err
	}
	if _, ok := s.Players[petID]; ok {
		return []Event{{Type: EvtRegistered, Player: petID}}, nil
	}
	if petID == "" || cmd.Identity.Owner == "" || cmd.Identity.Name == "" {
		return nil, fmt.Errorf("%w: incomplete identity for %q", ErrIdentityUnavailable, petID)
	}

	roll, err := draw(rng, s.Rules.MaxRange-s.Rules.MinRange)
	if err != nil {
		return nil, err
	}
	power := s.Rules.MinRange + roll

	s.Players[petID] = Player{
		PetID:        petID,
		Owner:        cmd.Identity.Owner,
		Name:         cmd.Identity.Name,
		RegisteredAt: cmd.Identity.RegisteredAt,
		Stats: Stats{
			Power:   power,
			Defence: s.Rules.MaxPower - power,
			Health:  s.Rules.StartingHealth,
		},
		Color: colorFor(len(s.Players)),
	}
	s.Active = append(s.Active, petID)

	return []Event{{Type: EvtRegistered, Player: petID}}, nil
}

func (s *State) startBattle(cmd Command, rng Source) ([]Event, error) {
	if !s.IsAdmin(cmd.Actor) {
		return nil, ErrUnauthorized
	}

	switch s.Phase {
	case PhaseRegistration:
		if len(s.Active) < 2 {
			return nil, ErrNotEnoughPlayers
		}
		events, err := s.pairRound(cmd.At, rng)
		if err != nil {
			return nil, err
		}
		started := Event{Type: EvtBattleStarted, Round: s.Round, Pairs: pairIDs(s.RoundPairs(s.Round))}
		return append([]Event{started}, events...), nil
	case PhaseWaitingNextRound:
		return s.nextRound(cmd.At, rng)
	default:
		return nil, ErrAlreadyInProgress
	}
}

func (s *State) addAdmin(cmd Command) ([]Event, error) {
	if !s.IsAdmin(cmd.Actor) {
		return nil, ErrUnauthorized
	}
	if cmd.Target == "" {
		return nil, fmt.Errorf("%w: empty admin identity", ErrUnauthorized)
	}
	if !slices.Contains(s.Admins, cmd.Target) {
		s.Admins = append(s.Admins, cmd.Target)
	}
	return []Event{{Type: EvtAdminAdded, Player: cmd.Target}}, nil
}

// trackReservation records the handle of the deadline check armed for a
// pair against both of its participants. Unknown or finished pairs are
// ignored: the check was armed for a pair that has moved on.
func (s *State) trackReservation(cmd Command) []Event {
	p, ok := s.Pairs[cmd.PairID]
	if !ok || p.Terminal || cmd.Token == "" {
		return nil
	}
	for _, id := range p.Players {
		if id != "" {
			s.Reservations[id] = cmd.Token
		}
	}
	return []Event{{Type: EvtReservationTracked, PairID: p.ID, Token: cmd.Token}}
}

func pairIDs(pairs []Pair) []PairID {
	out := make([]PairID, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.ID)
	}
	return out
}
