package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSchemaNotReady         = errors.New("schema_not_ready")
	ErrSchemaVersionMismatch  = errors.New("schema_version_mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema_checksum_mismatch")
)

const schemaStateID int16 = 1

// SchemaState is the single row recording which embedded schema was applied.
type SchemaState struct {
	ID            int16     `gorm:"primaryKey;autoIncrement:false"`
	SchemaVersion string    `gorm:"type:varchar(32);not null"`
	Checksum      *string   `gorm:"type:varchar(64)"`
	AppliedAt     time.Time `gorm:"not null"`
}

func (SchemaState) TableName() string { return "schema_state" }

func recordSchemaState(ctx context.Context, db *gorm.DB, manifest Manifest) error {
	checksum := manifest.Checksum
	state := SchemaState{
		ID:            schemaStateID,
		SchemaVersion: manifest.VersionString(),
		Checksum:      &checksum,
		AppliedAt:     time.Now().UTC(),
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"schema_version", "checksum", "applied_at"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("record schema state: %w", err)
	}
	return nil
}

// Gate reports whether the connected database carries the schema this binary
// was built with.
type Gate struct {
	db       *gorm.DB
	manifest Manifest
}

func NewGate(db *gorm.DB) (*Gate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}
	manifest, err := LoadManifest()
	if err != nil {
		return nil, err
	}
	return &Gate{db: db, manifest: manifest}, nil
}

func (g *Gate) Check(ctx context.Context) error {
	var rows []SchemaState
	if err := g.db.WithContext(ctx).Where("id = ?", schemaStateID).Limit(1).Find(&rows).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaNotReady, err)
	}
	if len(rows) == 0 {
		return ErrSchemaNotReady
	}
	state := rows[0]

	if state.SchemaVersion != g.manifest.VersionString() {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaVersionMismatch, state.SchemaVersion, g.manifest.VersionString())
	}
	if state.Checksum != nil && *state.Checksum != "" && *state.Checksum != g.manifest.Checksum {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaChecksumMismatch, *state.Checksum, g.manifest.Checksum)
	}
	return nil
}
