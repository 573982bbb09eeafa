// Package types holds the read-only battle snapshot served to clients over
// HTTP and the websocket stream.
package types

import "time"

// Snapshot is the committed state of one battle at Version.
//
// Moves stay hidden until an exchange is resolved: a pair only reports which
// sides have submitted.
type Snapshot struct {
	Version         int       `json:"version"`
	Code            string    `json:"code"`
	Phase           string    `json:"phase"` // "registration" | "in_progress" | "waiting_next_round" | "complete"
	Round           int       `json:"round"`
	CompletedRounds int       `json:"completed_rounds"`
	Winner          string    `json:"winner,omitempty"`
	Admins          []string  `json:"admins"`
	Players         []Player  `json:"players"`
	Pairs           []Pair    `json:"pairs"`
	Events          []Event   `json:"events,omitempty"`
	Rules           Rules     `json:"rules"`
	GeneratedAt     time.Time `json:"generated_at"`
}

type Player struct {
	PetID       string    `json:"pet_id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Power       int       `json:"power"`
	Defence     int       `json:"defence"`
	Health      int       `json:"health"`
	Color       string    `json:"color"`
	Victories   int       `json:"victories"`
	Active      bool      `json:"active"` // still in the tournament
}

type Pair struct {
	ID        int       `json:"id"`
	Round     int       `json:"round"`
	Players   [2]string `json:"players"`
	Submitted [2]bool   `json:"submitted"`
	Rounds    int       `json:"rounds"`
	Terminal  bool      `json:"terminal"`
	Bye       bool      `json:"bye,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
}

// Event is one entry of the event log a command produced.
//   RoundResolved: pair, round (exchange number), health, moves, forced
//   PairCompleted: pair, player (winner), round (tournament round)
//   NewRound / BattleStarted: round, pairs
//   Bye: pair, player
type Event struct {
	Type     string     `json:"type"`
	Player   string     `json:"player,omitempty"`
	PairID   int        `json:"pair_id,omitempty"`
	Round    int        `json:"round,omitempty"`
	Health   *[2]int    `json:"health,omitempty"`
	Moves    *[2]string `json:"moves,omitempty"`
	Forced   bool       `json:"forced,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Pairs    []int      `json:"pairs,omitempty"`
}

type Rules struct {
	MaxPower         int   `json:"max_power"`
	MinRange         int   `json:"min_range"`
	MaxRange         int   `json:"max_range"`
	DefenceBoost     int   `json:"defence_boost"`
	StartingHealth   int   `json:"starting_health"`
	MaxParticipants  int   `json:"max_participants"`
	MaxRoundsPerPair int   `json:"max_rounds_per_pair"`
	MoveWindowMS     int64 `json:"move_window_ms"`
	AutoAdvance      bool  `json:"auto_advance"`
}
