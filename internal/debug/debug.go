// Package debug wires the optional eino devops visual debugger. It is a
// development aid, enabled only by configuration.
package debug

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/tradecrew-ai/tradecrew/internal/config"
	"github.com/tradecrew-ai/tradecrew/internal/logging"
)

// InitEino starts the eino devops debug server when enabled. A disabled
// config is a no-op.
func InitEino(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	if !cfg.EinoDebugEnabled {
		return nil
	}

	if err := devops.Init(ctx); err != nil {
		return fmt.Errorf("initializing eino debug server: %w", err)
	}

	log.Info("eino debug server started", "url", fmt.Sprintf("http://localhost:%d", cfg.EinoDebugPort))
	return nil
}
