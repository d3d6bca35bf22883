package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/storepay/internal/providers/payment/domain"
	"github.com/railzwaylabs/storepay/internal/security/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Vault   vault.Provider `optional:"true"`
	Catalog domain.Catalog
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	vault   vault.Provider
	catalog domain.Catalog
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("paymentprovider.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		vault:   p.Vault,
		catalog: p.Catalog,
	}
}

func (s *Service) GetActiveCredentials(ctx context.Context, tenantID snowflake.ID, provider string) (*domain.Credentials, error) {
	provider = normalizeProvider(provider)
	row, err := s.repo.FindActive(ctx, s.db, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrConfigNotFound
	}
	values, err := s.decrypt(row.Config)
	if err != nil {
		return nil, err
	}
	return &domain.Credentials{TenantID: row.TenantID, Provider: row.Provider, Values: values}, nil
}

// ListActiveCredentials returns every decryptable active credential set for
// the provider. Rows that fail to decrypt are logged and skipped so one broken
// tenant cannot block webhook matching for the others.
func (s *Service) ListActiveCredentials(ctx context.Context, provider string) ([]domain.Credentials, error) {
	if s.vault == nil {
		return nil, domain.ErrEncryptionKeyMissing
	}
	provider = normalizeProvider(provider)
	rows, err := s.repo.ListActiveByProvider(ctx, s.db, provider)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Credentials, 0, len(rows))
	for _, row := range rows {
		values, err := s.decrypt(row.Config)
		if err != nil {
			s.log.Warn("skipping undecryptable provider config",
				zap.String("provider", provider),
				zap.String("tenant_id", row.TenantID.String()),
				zap.Error(err))
			continue
		}
		out = append(out, domain.Credentials{TenantID: row.TenantID, Provider: row.Provider, Values: values})
	}
	return out, nil
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.ConfigSummary, error) {
	if req.TenantID == 0 {
		return nil, domain.ErrInvalidTenant
	}
	provider := normalizeProvider(req.Provider)
	if provider == "" || s.catalog == nil || !s.catalog.ProviderExists(provider) {
		return nil, domain.ErrInvalidProvider
	}
	if len(req.Values) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	if s.vault == nil {
		return nil, domain.ErrEncryptionKeyMissing
	}

	sealed, err := vault.SealMap(s.vault, req.Values)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &domain.ProviderConfig{
		ID:        s.genID.Generate(),
		TenantID:  req.TenantID,
		Provider:  provider,
		Config:    datatypes.JSON(sealed),
		IsActive:  req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(ctx, s.db, row); err != nil {
		return nil, err
	}

	stored, err := s.repo.FindActive(ctx, s.db, req.TenantID, provider)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		row = stored
	}

	s.log.Info("provider config saved",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("provider", provider),
		zap.Bool("active", req.IsActive))

	keys := make([]string, 0, len(req.Values))
	for k := range req.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &domain.ConfigSummary{
		ID:        row.ID.String(),
		TenantID:  req.TenantID.String(),
		Provider:  provider,
		Keys:      keys,
		IsActive:  req.IsActive,
		UpdatedAt: now,
	}, nil
}

func (s *Service) decrypt(encrypted datatypes.JSON) (map[string]any, error) {
	if s.vault == nil {
		return nil, domain.ErrEncryptionKeyMissing
	}
	if len(encrypted) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	values, err := vault.OpenMap(s.vault, encrypted)
	if err != nil {
		if errors.Is(err, vault.ErrDecryption) || errors.Is(err, vault.ErrInvalidPayload) {
			return nil, domain.ErrInvalidConfig
		}
		return nil, err
	}
	if len(values) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	return values, nil
}

func normalizeProvider(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
