package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrConfigNotFound       = errors.New("provider_config_not_found")
)

// ProviderConfig holds one tenant's credential set for a provider. Config is
// the vault envelope of the credential map, never plaintext.
type ProviderConfig struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_provider_configs_tenant_provider"`
	Provider  string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_provider_configs_tenant_provider;index"`
	Config    datatypes.JSON `json:"-" gorm:"not null"`
	IsActive  bool           `json:"is_active" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null"`
}

func (ProviderConfig) TableName() string { return "payment_provider_configs" }

// Credentials is a decrypted credential set ready to build an adapter.
type Credentials struct {
	TenantID snowflake.ID
	Provider string
	Values   map[string]any
}

type UpsertRequest struct {
	TenantID snowflake.ID
	Provider string
	Values   map[string]any
	IsActive bool
}

type ConfigSummary struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Provider  string    `json:"provider"`
	Keys      []string  `json:"configured_keys"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog reports which provider codes the process can talk to.
type Catalog interface {
	ProviderExists(code string) bool
}

type Repository interface {
	FindActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*ProviderConfig, error)
	ListActiveByProvider(ctx context.Context, db *gorm.DB, provider string) ([]ProviderConfig, error)
	Upsert(ctx context.Context, db *gorm.DB, cfg *ProviderConfig) error
}

type Service interface {
	GetActiveCredentials(ctx context.Context, tenantID snowflake.ID, provider string) (*Credentials, error)
	ListActiveCredentials(ctx context.Context, provider string) ([]Credentials, error)
	Upsert(ctx context.Context, req UpsertRequest) (*ConfigSummary, error)
}
