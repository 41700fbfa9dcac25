// Package stores persists recorded trajectories for games that opted into
// data collection.
package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sessions"

	"github.com/fxamacker/cbor/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GameTrajectory struct {
	ID uint `gorm:"primaryKey"`

	SessionID string `gorm:"index;size:64"`
	Phase     int
	Layout    string `gorm:"size:64"`
	// HH, HA, AH or AA depending on which slots were human.
	GameType string `gorm:"size:2"`
	UID      string `gorm:"size:80"`

	// The recorded transitions, cbor-encoded.
	Data []byte

	Created time.Time
}

type TrajectoryStore struct {
	db *gorm.DB
}

func NewTrajectoryStore(path string) (*TrajectoryStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open trajectory database: %w", err)
	}

	if err := db.AutoMigrate(&GameTrajectory{}); err != nil {
		return nil, err
	}

	return &TrajectoryStore{db: db}, nil
}

// SaveTrajectory implements sessions.TrajectorySink.
func (t *TrajectoryStore) SaveTrajectory(
	ctx context.Context,
	record sessions.TrajectoryRecord,
) error {
	if record.Data == nil {
		return nil
	}

	data, err := cbor.Marshal(record.Data.Trajectory)
	if err != nil {
		return err
	}

	row := GameTrajectory{
		SessionID: record.SessionID,
		Phase:     record.Phase,
		Layout:    record.Layout,
		GameType:  record.GameType,
		UID:       record.Data.UID,
		Data:      data,
		Created:   time.Now(),
	}

	return t.db.WithContext(ctx).Create(&row).Error
}

func (t *TrajectoryStore) LoadTrajectories(
	ctx context.Context,
	sessionID string,
) ([]GameTrajectory, error) {
	var rows []GameTrajectory
	err := t.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("phase asc").
		Find(&rows).Error
	return rows, err
}
