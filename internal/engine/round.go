package engine

import (
	"time"

	"github.com/google/uuid"
)

func (s *State) submitMove(cmd Command, rng Source) ([]Event, error) {
	if s.Phase != PhaseInProgress {
		return nil, ErrNotInProgress
	}
	p, ok := s.Pairs[cmd.PairID]
	if !ok {
		return nil, ErrUnknownPair
	}
	if p.Terminal {
		return nil, ErrPairResolved
	}
	side, ok := p.Side(cmd.Actor, s.Players)
	if !ok {
		return nil, ErrNotAParticipant
	}
	if p.Moves[side] != nil {
		return nil, ErrMoveAlreadySubmitted
	}
	if !cmd.Move.Valid() {
		return nil, ErrUnsupportedCommand
	}

	move := cmd.Move
	p.Moves[side] = &move
	s.Pairs[p.ID] = p

	events := []Event{{Type: EvtMoveAccepted, PairID: p.ID, Player: p.Players[side]}}
	if p.Moves[0] == nil || p.Moves[1] == nil {
		return events, nil
	}

	resolved, err := s.resolvePair(p.ID, cmd.At, false, rng)
	if err != nil {
		return nil, err
	}
	return append(events, resolved...), nil
}

// resolveTimeout force-resolves a pair whose deadline passed. A check carrying
// a token is the scheduled one: it is a silent no-op once the pair finished or
// moved to a later deadline. A check without a token is a manual request and
// must wait for the deadline.
func (s *State) resolveTimeout(cmd Command, rng Source) ([]Event, error) {
	scheduled := cmd.Token != ""

	p, ok := s.Pairs[cmd.PairID]
	if !ok {
		if scheduled {
			return nil, nil
		}
		return nil, ErrUnknownPair
	}
	if p.Terminal || s.Phase != PhaseInProgress {
		return nil, nil
	}
	if scheduled && cmd.Token != p.Token {
		return nil, nil
	}
	if cmd.Target != "" {
		if _, ok := p.Side(cmd.Target, s.Players); !ok {
			return nil, ErrNotAParticipant
		}
	}
	if !scheduled && cmd.At.Before(p.Deadline) {
		return nil, ErrDeadlineNotReached
	}

	for side := range p.Moves {
		if p.Moves[side] == nil {
			def := MoveDefence
			p.Moves[side] = &def
		}
	}
	s.Pairs[p.ID] = p

	return s.resolvePair(p.ID, cmd.At, true, rng)
}

// resolvePair runs the combat resolver on a pair whose move slots are full,
// then either finishes the pair or opens its next exchange.
func (s *State) resolvePair(id PairID, at time.Time, forced bool, rng Source) ([]Event, error) {
	p := s.Pairs[id]
	a, b := s.Players[p.Players[0]], s.Players[p.Players[1]]
	moves := [2]Move{*p.Moves[0], *p.Moves[1]}

	span := s.Rules.MaxRange - s.Rules.MinRange
	var rolls [2]int
	for side := range rolls {
		if moves[1-side] != MoveAttack {
			continue
		}
		roll, err := draw(rng, span)
		if err != nil {
			return nil, err
		}
		rolls[side] = roll
	}

	out := Resolve(s.Rules, moves, [2]Stats{a.Stats, b.Stats}, rolls)
	a.Stats.Health, b.Stats.Health = out.Health[0], out.Health[1]
	s.Players[a.PetID], s.Players[b.PetID] = a, b

	events := []Event{{
		Type:   EvtRoundResolved,
		PairID: p.ID,
		Round:  p.Rounds,
		Health: out.Health,
		Moves:  p.Moves,
		Forced: forced,
	}}

	eliminated := out.Health[0] == 0 || out.Health[1] == 0
	if !eliminated && p.Rounds < s.Rules.MaxRoundsPerPair {
		p.Rounds++
		p.Moves = [2]*Move{}
		p.Deadline = at.Add(s.Rules.MoveWindow)
		p.Token = uuid.NewString()
		s.Pairs[p.ID] = p
		return append(events, Event{Type: EvtDeadlineSet, PairID: p.ID, Deadline: p.Deadline, Token: p.Token}), nil
	}

	winner, err := pickWinner(p, out, rng)
	if err != nil {
		return nil, err
	}
	p.Terminal = true
	p.Winner = winner
	p.Token = ""
	s.Pairs[p.ID] = p

	w := s.Players[winner]
	w.Victories++
	s.Players[winner] = w
	for _, pid := range p.Players {
		delete(s.Reservations, pid)
	}

	events = append(events, Event{Type: EvtPairCompleted, PairID: p.ID, Player: winner, Round: p.Round})

	progressed, err := s.progress(at, rng)
	if err != nil {
		return nil, err
	}
	return append(events, progressed...), nil
}

// pickWinner takes the side with more health left; a level finish is settled
// by the random source.
func pickWinner(p Pair, out Outcome, rng Source) (ID, error) {
	switch out.Loser {
	case 0:
		return p.Players[1], nil
	case 1:
		return p.Players[0], nil
	}
	side, err := draw(rng, 2)
	if err != nil {
		return "", err
	}
	return p.Players[side], nil
}
