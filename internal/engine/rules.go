package engine

import (
	"fmt"
	"time"
)

// Palette is the fixed set of cosmetic colors handed out by registration index.
var Palette = []string{"Green", "Red", "Blue", "Purple", "Orange", "Yellow"}

// Rules holds the tunable numbers of a battle. Stats are integers on a
// 0..MaxPower scale; damage swing is drawn from [MinRange, MaxRange).
type Rules struct {
	MaxPower         int
	MinRange         int
	MaxRange         int
	DefenceBoost     int
	StartingHealth   int
	MaxParticipants  int
	MaxRoundsPerPair int
	MoveWindow       time.Duration
	AutoAdvance      bool
}

func DefaultRules() Rules {
	return Rules{
		MaxPower:         10_000,
		MinRange:         3_000,
		MaxRange:         7_000,
		DefenceBoost:     4,
		StartingHealth:   2_500,
		MaxParticipants:  50,
		MaxRoundsPerPair: 5,
		MoveWindow:       20 * time.Second,
		AutoAdvance:      true,
	}
}

// Validate checks the rules are internally consistent. The boost check keeps
// a defended blow fully absorbed for every stat line registration can roll.
func (r Rules) Validate() error {
	switch {
	case r.MaxPower <= 0:
		return fmt.Errorf("%w: max power must be positive", ErrInvalidRules)
	case r.MinRange <= 0 || r.MinRange >= r.MaxRange || r.MaxRange >= r.MaxPower:
		return fmt.Errorf("%w: need 0 < min range < max range < max power", ErrInvalidRules)
	case r.DefenceBoost*(r.MaxPower-r.MaxRange) < r.MaxPower:
		return fmt.Errorf("%w: defence boost %d too small to absorb a defended blow", ErrInvalidRules, r.DefenceBoost)
	case r.StartingHealth <= 0:
		return fmt.Errorf("%w: starting health must be positive", ErrInvalidRules)
	case r.MaxParticipants < 2:
		return fmt.Errorf("%w: need room for at least two participants", ErrInvalidRules)
	case r.MaxRoundsPerPair < 1:
		return fmt.Errorf("%w: max rounds per pair must be at least 1", ErrInvalidRules)
	case r.MoveWindow <= 0:
		return fmt.Errorf("%w: move window must be positive", ErrInvalidRules)
	}
	return nil
}

// StatsInBounds reports whether a stat line could have come from registration.
func (r Rules) StatsInBounds(s Stats) bool {
	return s.Power >= r.MinRange && s.Power < r.MaxRange &&
		s.Defence == r.MaxPower-s.Power &&
		s.Health >= 0 && s.Health <= r.StartingHealth
}

func colorFor(index int) string {
	return Palette[index%len(Palette)]
}
