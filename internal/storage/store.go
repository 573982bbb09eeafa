// Package storage keeps the latest committed snapshot of every battle in
// Postgres so a restarted process can pick a battle up where it stopped.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
)

// BattleSnapshot is one row per battle code. State holds the JSON encoded
// engine.State of the committed version.
type BattleSnapshot struct {
	Code      string `gorm:"primaryKey;size:16"`
	Version   int    `gorm:"not null"`
	Phase     string `gorm:"size:32;index"`
	Winner    string `gorm:"size:128"`
	State     []byte `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres and migrates the snapshot table.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.AutoMigrate(&BattleSnapshot{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// SaveSnapshot upserts the snapshot for code. An older version never
// overwrites a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, code string, version int, state engine.State) error {
	payload, err := encodeState(state)
	if err != nil {
		return err
	}

	row := BattleSnapshot{
		Code:    code,
		Version: version,
		Phase:   string(state.Phase),
		Winner:  string(state.Winner),
		State:   payload,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		Where:     clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "battle_snapshots.version < excluded.version"}}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "phase", "winner", "state", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: save %s v%d: %w", code, version, err)
	}
	return nil
}

// LoadSnapshot returns the stored state for code. ok is false when the
// battle was never saved.
func (s *Store) LoadSnapshot(ctx context.Context, code string) (engine.State, int, bool, error) {
	var row BattleSnapshot
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.State{}, 0, false, nil
	}
	if err != nil {
		return engine.State{}, 0, false, fmt.Errorf("storage: load %s: %w", code, err)
	}

	state, err := decodeState(row.State)
	if err != nil {
		return engine.State{}, 0, false, fmt.Errorf("storage: load %s: %w", code, err)
	}
	s.log.Debug("snapshot loaded", zap.String("battle", code), zap.Int("version", row.Version))
	return state, row.Version, true, nil
}

// Unfinished lists the codes of battles that have not completed yet.
func (s *Store) Unfinished(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).Model(&BattleSnapshot{}).
		Where("phase <> ?", string(engine.PhaseComplete)).
		Order("updated_at").
		Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("storage: unfinished: %w", err)
	}
	return codes, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeState(state engine.State) ([]byte, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("storage: encode state: %w", err)
	}
	return b, nil
}

func decodeState(b []byte) (engine.State, error) {
	var state engine.State
	if err := json.Unmarshal(b, &state); err != nil {
		return engine.State{}, fmt.Errorf("storage: decode state: %w", err)
	}
	// Apply clones nil maps into empty ones, but readers may not go through it.
	if state.Players == nil {
		state.Players = map[engine.ID]engine.Player{}
	}
	if state.Pairs == nil {
		state.Pairs = map[engine.PairID]engine.Pair{}
	}
	if state.PlayerPairs == nil {
		state.PlayerPairs = map[engine.ID][]engine.PairID{}
	}
	if state.Reservations == nil {
		state.Reservations = map[engine.ID]string{}
	}
	return state, nil
}
