package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
)

type lastSource struct{}

func (lastSource) Value(limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	return limit - 1, nil
}

func startedBattle(t *testing.T) engine.State {
	t.Helper()
	s := engine.NewState("admin", engine.DefaultRules())
	var err error
	for _, id := range []engine.ID{"a", "b", "c"} {
		_, s, err = engine.Apply(s, engine.Command{
			Type:     engine.CmdRegister,
			Target:   id,
			Identity: engine.Identity{Owner: "owner-" + id, Name: string(id)},
		}, lastSource{})
		require.NoError(t, err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, s, err = engine.Apply(s, engine.Command{Type: engine.CmdStartBattle, Actor: "admin", At: at}, lastSource{})
	require.NoError(t, err)
	return s
}

func TestStateEncoding_KeepsOpenPairs(t *testing.T) {
	s := startedBattle(t)

	b, err := encodeState(s)
	require.NoError(t, err)
	got, err := decodeState(b)
	require.NoError(t, err)

	require.Len(t, got.OpenPairs(), 1)
	open := got.OpenPairs()[0]
	assert.Equal(t, s.Pairs[open.ID].Token, open.Token)
	assert.True(t, s.Pairs[open.ID].Deadline.Equal(open.Deadline))
	assert.Equal(t, s.Players, got.Players)
	assert.Equal(t, s.PlayerPairs, got.PlayerPairs)
	assert.Equal(t, s.Rules, got.Rules)
}

func TestDecodeState_FillsMissingMaps(t *testing.T) {
	got, err := decodeState([]byte(`{"Phase":"registration"}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Players)
	assert.NotNil(t, got.Pairs)
	assert.NotNil(t, got.PlayerPairs)
	assert.NotNil(t, got.Reservations)

	_, err = decodeState([]byte(`{`))
	require.Error(t, err)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := Open(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_SaveLoad(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	code := uuid.NewString()[:8]
	s := startedBattle(t)

	_, _, ok, err := st.LoadSnapshot(ctx, code)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.SaveSnapshot(ctx, code, 4, s))
	got, version, ok, err := st.LoadSnapshot(ctx, code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, version)
	assert.Equal(t, engine.PhaseInProgress, got.Phase)

	codes, err := st.Unfinished(ctx)
	require.NoError(t, err)
	assert.Contains(t, codes, code)
}

func TestStore_OlderVersionDoesNotOverwrite(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	code := uuid.NewString()[:8]
	s := startedBattle(t)

	require.NoError(t, st.SaveSnapshot(ctx, code, 5, s))
	stale := engine.NewState("admin", engine.DefaultRules())
	require.NoError(t, st.SaveSnapshot(ctx, code, 3, stale))

	got, version, ok, err := st.LoadSnapshot(ctx, code)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, version)
	assert.Len(t, got.Players, 3)
}
