package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed assets
var embeddedAssets embed.FS

const DefaultManifest = "templates.yaml"

type manifest struct {
	Templates []manifestEntry `yaml:"templates"`
}

type manifestEntry struct {
	ID          string               `yaml:"id"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	File        string               `yaml:"file"`
	Bindings    []domain.SlotBinding `yaml:"bindings"`
}

// Catalog holds the workflow templates loaded at startup. It is read-only
// after loading.
type Catalog struct {
	templates map[string]domain.WorkflowTemplate
	order     []string
}

// EmbeddedAssets returns the templates compiled into the binary.
func EmbeddedAssets() fs.FS {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// LoadCatalogFromPath loads a manifest from disk, or the embedded catalog when
// manifestPath is empty.
func LoadCatalogFromPath(manifestPath string) (*Catalog, error) {
	if manifestPath == "" {
		return LoadCatalog(EmbeddedAssets(), DefaultManifest)
	}

	dir, file := filepath.Split(manifestPath)
	if dir == "" {
		dir = "."
	}

	return LoadCatalog(os.DirFS(dir), file)
}

// LoadCatalog reads the manifest and every template document it references.
func LoadCatalog(fsys fs.FS, manifestPath string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse template manifest: %w", err)
	}

	if len(m.Templates) == 0 {
		return nil, fmt.Errorf("template manifest %s declares no templates", manifestPath)
	}

	catalog := &Catalog{
		templates: make(map[string]domain.WorkflowTemplate, len(m.Templates)),
	}

	baseDir := path.Dir(manifestPath)

	for _, entry := range m.Templates {
		tpl, err := loadTemplate(fsys, baseDir, entry)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", entry.ID, err)
		}

		if _, exists := catalog.templates[tpl.ID]; exists {
			return nil, fmt.Errorf("duplicate template id %q", tpl.ID)
		}

		catalog.templates[tpl.ID] = tpl
		catalog.order = append(catalog.order, tpl.ID)

		log.Debug().
			Str("template_id", tpl.ID).
			Int("nodes", len(tpl.Definition.Nodes)).
			Msg("Loaded workflow template")
	}

	return catalog, nil
}

func loadTemplate(fsys fs.FS, baseDir string, entry manifestEntry) (domain.WorkflowTemplate, error) {
	if entry.ID == "" {
		return domain.WorkflowTemplate{}, fmt.Errorf("missing id")
	}

	if entry.File == "" {
		return domain.WorkflowTemplate{}, fmt.Errorf("missing file")
	}

	for _, b := range entry.Bindings {
		if err := validateBinding(b); err != nil {
			return domain.WorkflowTemplate{}, err
		}
	}

	data, err := fs.ReadFile(fsys, path.Join(baseDir, entry.File))
	if err != nil {
		return domain.WorkflowTemplate{}, fmt.Errorf("failed to read document: %w", err)
	}

	if err := ValidateDocument(data); err != nil {
		return domain.WorkflowTemplate{}, fmt.Errorf("invalid document %s: %w", entry.File, err)
	}

	var definition domain.WorkflowDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		return domain.WorkflowTemplate{}, fmt.Errorf("failed to decode document %s: %w", entry.File, err)
	}

	name := entry.Name
	if name == "" {
		name = entry.ID
	}

	return domain.WorkflowTemplate{
		ID:          entry.ID,
		Name:        name,
		Description: entry.Description,
		Definition:  definition,
		Bindings:    MergeBindings(DefaultBindings(), entry.Bindings),
	}, nil
}

func validateBinding(b domain.SlotBinding) error {
	if !b.Capability.IsValid() {
		return fmt.Errorf("binding has unknown capability %q", b.Capability)
	}

	if b.Slot == "" {
		return fmt.Errorf("binding for %s has no slot", b.Capability)
	}

	if len(b.NodeTypes) == 0 {
		return fmt.Errorf("binding for %s lists no node types", b.Capability)
	}

	return nil
}

// Get returns the template with the given id or domain.ErrTemplateNotFound.
func (c *Catalog) Get(id string) (domain.WorkflowTemplate, error) {
	tpl, ok := c.templates[id]
	if !ok {
		return domain.WorkflowTemplate{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, id)
	}

	return tpl, nil
}

// List returns the templates in manifest order.
func (c *Catalog) List() []domain.WorkflowTemplate {
	out := make([]domain.WorkflowTemplate, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}

	return out
}
