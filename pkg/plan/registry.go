// Package plan holds versioned workflow templates: the immutable execution
// plans that workflow activation materializes into task executions.
package plan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/titleworks/lientrack/pkg/models"
)

// templateSchema validates template files before they are accepted into the
// registry. Structural rules the schema cannot express (unique task types,
// resolvable dependencies) are checked by WorkflowTemplate.Validate.
const templateSchema = `{
	"type": "object",
	"required": ["workflow_type", "version", "tasks"],
	"properties": {
		"workflow_type": {"type": "string", "minLength": 1},
		"version": {"type": "integer", "minimum": 1},
		"business_hours_only": {"type": "boolean"},
		"tasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["task_type", "executor_kind", "default_sla_hours"],
				"properties": {
					"task_type": {"type": "string", "minLength": 1},
					"executor_kind": {"enum": ["ai", "human"]},
					"sequence_order": {"type": "integer", "minimum": 0},
					"default_sla_hours": {"type": "integer", "minimum": 1},
					"max_retries": {"type": "integer", "minimum": 0},
					"dependencies": {"type": "array", "items": {"type": "string"}},
					"output_keys": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

// Registry resolves workflow templates by type. Later registrations of the
// same type must carry a higher version.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	templates map[string]*models.WorkflowTemplate
}

// NewRegistry creates a registry seeded with the built-in templates.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	registry := &Registry{
		logger:    logger.With("module", "plan_registry"),
		templates: make(map[string]*models.WorkflowTemplate),
	}

	for _, template := range builtinTemplates() {
		// Built-ins are maintained alongside this package; a broken one is a
		// programming error.
		err := registry.Register(template)
		if err != nil {
			panic(fmt.Sprintf("invalid built-in template %s: %v", template.WorkflowType, err))
		}
	}

	return registry
}

// Register adds or upgrades a template. Downgrades and same-version
// replacements are rejected: templates are immutable once published.
func (r *Registry) Register(template *models.WorkflowTemplate) error {
	err := template.Validate()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.templates[template.WorkflowType]
	if ok && existing.Version >= template.Version {
		return fmt.Errorf("template %s version %d is not newer than registered version %d",
			template.WorkflowType, template.Version, existing.Version)
	}

	r.templates[template.WorkflowType] = template

	return nil
}

// Template returns the registered template for the workflow type.
func (r *Registry) Template(workflowType string) (*models.WorkflowTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	template, ok := r.templates[workflowType]
	if !ok {
		return nil, fmt.Errorf("no template registered for workflow type %q", workflowType)
	}

	return template, nil
}

// WorkflowTypes lists the registered workflow types.
func (r *Registry) WorkflowTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.templates))
	for workflowType := range r.templates {
		types = append(types, workflowType)
	}

	return types
}

// LoadFile parses, schema-validates and registers a single template file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}

	err = validateAgainstSchema(data)
	if err != nil {
		return fmt.Errorf("template file %s: %w", path, err)
	}

	var template models.WorkflowTemplate

	err = json.Unmarshal(data, &template)
	if err != nil {
		return fmt.Errorf("failed to parse template file %s: %w", path, err)
	}

	err = r.Register(&template)
	if err != nil {
		return fmt.Errorf("template file %s: %w", path, err)
	}

	r.logger.Info("template loaded",
		"workflow_type", template.WorkflowType,
		"version", template.Version,
		"tasks", len(template.Tasks),
		"path", path)

	return nil
}

// LoadDirectory loads every .json template in the directory. A missing
// directory is not an error: deployments without custom templates run on the
// built-ins.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read template directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		err := r.LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
	}

	return nil
}

func validateAgainstSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(templateSchema)
	dataLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(details, "; "))
	}

	return nil
}
