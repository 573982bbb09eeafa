package engine

// Outcome is the result of one exchange between side 0 and side 1.
type Outcome struct {
	Damage [2]int
	Health [2]int
	// Loser is the side with lower health after the exchange, or -1 when
	// health is level.
	Loser int
}

// Resolve computes one exchange. rolls[i] is the swing roll for the damage
// side i would take and must lie in [0, MaxRange-MinRange). It has no side
// effects.
func Resolve(r Rules, moves [2]Move, stats [2]Stats, rolls [2]int) Outcome {
	out := Outcome{Health: [2]int{stats[0].Health, stats[1].Health}, Loser: -1}

	for side := 0; side < 2; side++ {
		other := 1 - side
		if moves[other] != MoveAttack {
			continue
		}
		defence := stats[side].Defence
		if moves[side] == MoveDefence {
			defence *= r.DefenceBoost
		}
		out.Damage[side] = damage(r, stats[other].Power, defence, rolls[side])
	}

	for side := 0; side < 2; side++ {
		out.Health[side] = max(out.Health[side]-out.Damage[side], 0)
	}

	switch {
	case out.Health[0] < out.Health[1]:
		out.Loser = 0
	case out.Health[1] < out.Health[0]:
		out.Loser = 1
	}
	return out
}

// damage scales attacker power by the swing, then by the share of the blow
// the defence fails to stop.
func damage(r Rules, power, defence, roll int) int {
	span := r.MaxRange - r.MinRange
	roll = min(max(roll, 0), span-1)
	swing := int64(r.MinRange + roll)

	defence = min(max(defence, 0), r.MaxPower)
	open := int64(r.MaxPower - defence)
	maxPower := int64(r.MaxPower)

	return int(swing * int64(power) / maxPower * open / maxPower)
}
