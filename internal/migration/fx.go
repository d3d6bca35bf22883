package migration

import (
	"go.uber.org/fx"
)

// Module only provides the schema gate. Migrations run from the migrate
// command (or `all`), never implicitly on serve.
var Module = fx.Module("migrations",
	fx.Provide(NewGate),
)
