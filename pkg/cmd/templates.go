package cmd

import (
	"fmt"
	"log/slog"

	"github.com/titleworks/lientrack/pkg/plan"
)

// NewTemplateRegistry creates the template registry with the built-in
// templates, then layers template files from templatesDir on top. An empty
// templatesDir loads built-ins only.
func NewTemplateRegistry(logger *slog.Logger, templatesDir string) *plan.Registry {
	registry := plan.NewRegistry(logger)

	if templatesDir != "" {
		err := registry.LoadDirectory(templatesDir)
		if err != nil {
			panic(fmt.Errorf("failed to load templates from %s: %w", templatesDir, err))
		}
	}

	return registry
}
