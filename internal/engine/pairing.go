package engine

import (
	"time"

	"github.com/google/uuid"
)

// Pairing is one entry of a round's draw. A bye carries a single player in
// Players[0] and leaves Players[1] empty.
type Pairing struct {
	Players [2]ID
	Bye     bool
}

// BuildPairings shuffles active with rng and splits it into consecutive
// pairs. With an odd count the last participant after the shuffle gets a bye.
func BuildPairings(active []ID, rng Source) ([]Pairing, error) {
	order, err := shuffle(active, rng)
	if err != nil {
		return nil, err
	}

	out := make([]Pairing, 0, (len(order)+1)/2)
	for i := 0; i+1 < len(order); i += 2 {
		out = append(out, Pairing{Players: [2]ID{order[i], order[i+1]}})
	}
	if len(order)%2 == 1 {
		out = append(out, Pairing{Players: [2]ID{order[len(order)-1]}, Bye: true})
	}
	return out, nil
}

// pairRound draws the next tournament round from s.Active and opens its
// pairs. Everyone paired starts the round at full health.
func (s *State) pairRound(at time.Time, rng Source) ([]Event, error) {
	pairings, err := BuildPairings(s.Active, rng)
	if err != nil {
		return nil, err
	}

	s.Round++
	s.Phase = PhaseInProgress

	var events []Event
	for _, pr := range pairings {
		s.NextPairID++
		p := Pair{ID: s.NextPairID, Round: s.Round, Players: pr.Players, Bye: pr.Bye}

		for _, id := range pr.Players {
			if id == "" {
				continue
			}
			pl := s.Players[id]
			pl.Stats.Health = s.Rules.StartingHealth
			s.Players[id] = pl
			s.PlayerPairs[id] = append(s.PlayerPairs[id], p.ID)
		}

		if pr.Bye {
			p.Terminal = true
			p.Winner = pr.Players[0]
			s.Pairs[p.ID] = p
			events = append(events, Event{Type: EvtBye, PairID: p.ID, Player: p.Winner, Round: s.Round})
			continue
		}

		p.Rounds = 1
		p.Deadline = at.Add(s.Rules.MoveWindow)
		p.Token = uuid.NewString()
		s.Pairs[p.ID] = p
		events = append(events,
			Event{Type: EvtPairOpened, PairID: p.ID, Round: s.Round},
			Event{Type: EvtDeadlineSet, PairID: p.ID, Deadline: p.Deadline, Token: p.Token},
		)
	}
	return events, nil
}
