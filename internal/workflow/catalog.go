package workflow

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/grove/internal/errors"
	"github.com/Iron-Ham/grove/internal/logging"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// BuiltinPathPrefix marks template paths that refer to embedded templates.
const BuiltinPathPrefix = "builtin:"

// Info summarizes a template for listings.
type Info struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
	IsBuiltin   bool   `json:"isBuiltin"`
}

// Catalog finds workflow templates. Custom templates live as
// <name>.yaml files in a folder of the repository and take precedence over
// builtin templates of the same name.
type Catalog struct {
	fs        afero.Fs
	customDir string
	logger    *logging.Logger
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithCatalogFs replaces the filesystem holding custom templates.
func WithCatalogFs(fs afero.Fs) CatalogOption {
	return func(c *Catalog) { c.fs = fs }
}

// WithCatalogLogger sets the logger.
func WithCatalogLogger(logger *logging.Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCatalog creates a Catalog reading custom templates from customDir.
func NewCatalog(customDir string, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		fs:        afero.NewOsFs(),
		customDir: customDir,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("workflow")
	return c
}

// List returns the available templates sorted by name. When both kinds are
// included, a custom template hides the builtin one it overrides. Custom
// files that fail to parse are logged and skipped.
func (c *Catalog) List(includeBuiltin, includeCustom bool) ([]Info, error) {
	byName := make(map[string]Info)

	if includeBuiltin {
		builtins, err := c.builtins()
		if err != nil {
			return nil, err
		}
		for _, info := range builtins {
			byName[info.Name] = info
		}
	}

	if includeCustom {
		customs, err := c.customs()
		if err != nil {
			return nil, err
		}
		for _, info := range customs {
			byName[info.Name] = info
		}
	}

	infos := make([]Info, 0, len(byName))
	for _, info := range byName {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Load returns the template called name, preferring a custom template.
func (c *Catalog) Load(name string) (*Definition, error) {
	if !idPattern.MatchString(name) {
		return nil, errors.NewWorkflowDefinitionError(name, "invalid workflow name").WithCause(errors.ErrWorkflowNotFound)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		p := filepath.Join(c.customDir, name+ext)
		data, err := afero.ReadFile(c.fs, p)
		if err == nil {
			def, err := Parse(data, name)
			if err != nil {
				var defErr *errors.WorkflowDefinitionError
				if errors.As(err, &defErr) {
					defErr.WithPath(p)
				}
				return nil, err
			}
			return def, nil
		}
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read workflow %s", p)
		}
	}

	data, err := builtinFS.ReadFile(path.Join("builtin", name+".yaml"))
	if err != nil {
		return nil, errors.NewWorkflowDefinitionError(name, "unknown workflow").WithCause(errors.ErrWorkflowNotFound)
	}
	return Parse(data, name)
}

// Create validates content and stores it as a new custom template. It
// refuses to overwrite an existing custom template and returns the path.
func (c *Catalog) Create(name, content string) (string, error) {
	if !idPattern.MatchString(name) {
		return "", errors.NewValidationError("workflow names may only contain letters, digits, '-' and '_'").
			WithField("name").
			WithValue(name)
	}
	if _, err := Parse([]byte(content), name); err != nil {
		return "", err
	}

	if err := c.fs.MkdirAll(c.customDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", c.customDir)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		if ok, _ := afero.Exists(c.fs, filepath.Join(c.customDir, name+ext)); ok {
			return "", errors.NewAlreadyExistsError("workflow", name)
		}
	}

	p := filepath.Join(c.customDir, name+".yaml")
	f, err := c.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", errors.NewAlreadyExistsError("workflow", name)
		}
		return "", errors.Wrapf(err, "failed to create %s", p)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = c.fs.Remove(p)
		return "", errors.Wrapf(err, "failed to write %s", p)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", p)
	}

	c.logger.Info("workflow template created", "name", name, "path", p)
	return p, nil
}

func (c *Catalog) builtins() ([]Info, error) {
	entries, err := fs.ReadDir(builtinFS, "builtin")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read builtin workflows")
	}

	var infos []Info
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		data, err := builtinFS.ReadFile(path.Join("builtin", entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read builtin workflow %s", name)
		}
		def, err := Parse(data, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{
			Name:        name,
			Path:        BuiltinPathPrefix + name,
			Description: def.Description,
			IsBuiltin:   true,
		})
	}
	return infos, nil
}

func (c *Catalog) customs() ([]Info, error) {
	entries, err := afero.ReadDir(c.fs, c.customDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", c.customDir)
	}

	var infos []Info
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		p := filepath.Join(c.customDir, entry.Name())

		data, err := afero.ReadFile(c.fs, p)
		if err != nil {
			c.logger.Warn("skipping unreadable workflow", "path", p, "error", err)
			continue
		}
		def, err := Parse(data, name)
		if err != nil {
			c.logger.Warn("skipping invalid workflow", "path", p, "error", err)
			continue
		}
		infos = append(infos, Info{Name: name, Path: p, Description: def.Description})
	}
	return infos, nil
}
