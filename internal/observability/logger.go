package observability

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/vcsrpc/internal/logging"
)

var (
	tagOnce sync.Once
	base    zerolog.Logger
)

// InitLogger applies the runtime logging profile and returns a logger tagged
// with app. Only the first call retags the global logger.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	tagOnce.Do(func() {
		base = log.Logger
		log.Logger = base.With().Str("app", app).Logger()
	})
	return base.With().Str("app", app).Logger()
}
