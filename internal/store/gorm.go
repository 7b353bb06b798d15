package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type matchRow struct {
	ID          string `gorm:"primaryKey"`
	Code        string `gorm:"index"`
	StartedAt   time.Time
	EndedAt     time.Time
	LocksTotal  int
	LocksBroken int
	Players     []playerRow `gorm:"foreignKey:MatchID"`
}

func (matchRow) TableName() string { return "matches" }

type playerRow struct {
	ID          uint   `gorm:"primaryKey"`
	MatchID     string `gorm:"index"`
	Rank        int
	Player      string
	Glyph       string
	Score       int
	LocksBroken int
}

func (playerRow) TableName() string { return "match_players" }

// GormRecorder writes match results through gorm.
type GormRecorder struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the results tables.
func OpenPostgres(dsn string) (*GormRecorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormRecorder(db)
}

func NewGormRecorder(db *gorm.DB) (*GormRecorder, error) {
	if err := db.AutoMigrate(&matchRow{}, &playerRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormRecorder{db: db}, nil
}

func (r *GormRecorder) RecordMatch(ctx context.Context, res MatchResult) error {
	row := toRow(res)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record match %s: %w", res.ID, err)
	}
	return nil
}

func toRow(res MatchResult) matchRow {
	row := matchRow{
		ID:          res.ID,
		Code:        res.Code,
		StartedAt:   res.StartedAt,
		EndedAt:     res.EndedAt,
		LocksTotal:  res.LocksTotal,
		LocksBroken: res.LocksBroken,
		Players:     make([]playerRow, len(res.Players)),
	}
	for i, p := range res.Players {
		row.Players[i] = playerRow{
			MatchID:     res.ID,
			Rank:        p.Rank,
			Player:      p.Player,
			Glyph:       p.Glyph,
			Score:       p.Score,
			LocksBroken: p.LocksBroken,
		}
	}
	return row
}
