package vault

import (
	"github.com/railzwaylabs/storepay/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("security.vault",
	fx.Provide(func(cfg config.Config) (Provider, error) {
		return NewAESVault(cfg.Vault.AESKey)
	}),
)
