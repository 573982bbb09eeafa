package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPairings_CoversEveryoneOnce(t *testing.T) {
	rng := testSource()
	for n := 2; n <= 11; n++ {
		t.Run(fmt.Sprintf("%d players", n), func(t *testing.T) {
			ids := make([]ID, n)
			for i := range ids {
				ids[i] = ID(fmt.Sprintf("p%d", i))
			}

			pairings, err := BuildPairings(ids, rng)
			require.NoError(t, err)
			assert.Len(t, pairings, (n+1)/2)

			seen := map[ID]int{}
			byes := 0
			for _, pr := range pairings {
				if pr.Bye {
					byes++
					assert.Empty(t, pr.Players[1])
				}
				for _, id := range pr.Players {
					if id != "" {
						seen[id]++
					}
				}
			}
			assert.Equal(t, n%2, byes)
			assert.Len(t, seen, n)
			for id, count := range seen {
				assert.Equal(t, 1, count, "%s paired %d times", id, count)
			}
		})
	}
}

func TestBuildPairings_ByeGoesToLastAfterShuffle(t *testing.T) {
	pairings, err := BuildPairings([]ID{"a", "b", "c"}, lastSource{})
	require.NoError(t, err)
	assert.Equal(t, []Pairing{
		{Players: [2]ID{"a", "b"}},
		{Players: [2]ID{"c"}, Bye: true},
	}, pairings)
}

func TestBuildPairings_DoesNotReorderInput(t *testing.T) {
	ids := []ID{"a", "b", "c", "d"}
	_, err := BuildPairings(ids, testSource())
	require.NoError(t, err)
	assert.Equal(t, []ID{"a", "b", "c", "d"}, ids)
}

func TestBuildPairings_RandomFailure(t *testing.T) {
	_, err := BuildPairings([]ID{"a", "b"}, failSource{})
	require.ErrorIs(t, err, ErrRandomUnavailable)
}

func TestStartBattle_ByeIsAuditedSeparately(t *testing.T) {
	s := registered(t, DefaultRules(), lastSource{}, "a", "b", "c")
	events, s := mustApply(t, s, Command{Type: CmdStartBattle, Actor: "admin", At: t0}, lastSource{})

	var bye *Event
	for i := range events {
		if events[i].Type == EvtBye {
			bye = &events[i]
		}
		assert.NotEqual(t, EvtPairCompleted, events[i].Type)
	}
	require.NotNil(t, bye)
	assert.Equal(t, ID("c"), bye.Player)
	assert.Zero(t, s.Players["c"].Victories)
	assert.Equal(t, []PairID{2}, s.PlayerPairs["c"])
}
