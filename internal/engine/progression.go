package engine

import "time"

// progress closes the current tournament round once every pair in it is
// terminal. Winners, byes included, become the next active list in pairing
// order.
func (s *State) progress(at time.Time, rng Source) ([]Event, error) {
	pairs := s.RoundPairs(s.Round)
	for _, p := range pairs {
		if !p.Terminal {
			return nil, nil
		}
	}

	s.CompletedRounds++
	winners := make([]ID, 0, len(pairs))
	for _, p := range pairs {
		winners = append(winners, p.Winner)
	}
	s.Active = winners

	if len(winners) == 1 {
		s.Phase = PhaseComplete
		s.Winner = winners[0]
		return []Event{{Type: EvtTournamentComplete, Player: s.Winner, Round: s.Round}}, nil
	}

	s.Phase = PhaseWaitingNextRound
	events := []Event{{Type: EvtWaitingNextRound, Round: s.Round}}
	if !s.Rules.AutoAdvance {
		return events, nil
	}

	next, err := s.nextRound(at, rng)
	if err != nil {
		return nil, err
	}
	return append(events, next...), nil
}

func (s *State) nextRound(at time.Time, rng Source) ([]Event, error) {
	opened, err := s.pairRound(at, rng)
	if err != nil {
		return nil, err
	}
	header := Event{Type: EvtNewRound, Round: s.Round, Pairs: pairIDs(s.RoundPairs(s.Round))}
	return append([]Event{header}, opened...), nil
}
