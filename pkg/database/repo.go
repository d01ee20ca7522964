package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inserts multiple crash records, skipping seeds that are already indexed
func AddCrashes(ctx context.Context, db *gorm.DB, crashes []*Crash) error {
	if len(crashes) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "seed"}}, DoNothing: true}).
		Create(crashes).Error
}

// NewCrash creates a new Crash object with the provided parameters
func NewCrash(
	runID string,
	seed string,
	fuzzer string,
	target string,
	cause string,
	faultAddress uint64,
	signal int,
	bundlePath string,
	backtrace []string,
) *Crash {
	return &Crash{
		RunID:        runID,
		CreatedAt:    time.Now(),
		Seed:         seed,
		Fuzzer:       fuzzer,
		Target:       target,
		Cause:        cause,
		FaultAddress: fmt.Sprintf("0x%x", faultAddress),
		Signal:       signal,
		BundlePath:   bundlePath,
		Backtrace:    Frames(backtrace),
	}
}
