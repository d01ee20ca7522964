package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Crash represents a record in the public.crashes table
type Crash struct {
	ID           int       `gorm:"primaryKey;column:id"`
	RunID        string    `gorm:"column:run_id;not null;index"`
	CreatedAt    time.Time `gorm:"column:created_at;default:now()"`
	Seed         string    `gorm:"column:seed;not null;uniqueIndex"`
	Fuzzer       string    `gorm:"column:fuzzer"`
	Target       string    `gorm:"column:target"`
	Cause        string    `gorm:"column:cause;not null"`
	FaultAddress string    `gorm:"column:fault_address"` // hex, does not fit a signed bigint
	Signal       int       `gorm:"column:signal"`
	BundlePath   string    `gorm:"column:bundle_path;not null"`
	Backtrace    Frames    `gorm:"column:backtrace;type:jsonb"`
}

// Frames represents the jsonb backtrace column
type Frames []string

// Value implements the driver.Valuer interface for the Frames type
func (f Frames) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// Scan implements the sql.Scanner interface for the Frames type
func (f *Frames) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, f)
}
