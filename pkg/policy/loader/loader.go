package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/policy/model"
)

//go:embed policy.schema.json
var policySchema []byte

const schemaURL = "policy.schema.json"

// Config contains configuration for the policy file loader.
type Config struct {
	// Extensions are the file extensions treated as policy files.
	// Default: .yaml, .yml, .json.
	Extensions []string

	// MaxFileSize is the largest accepted file in bytes.
	// Default: 1 MiB.
	MaxFileSize int64

	// SkipHidden skips dot files and directories.
	SkipHidden bool

	// FollowSymlinks follows symbolic links to policy files.
	FollowSymlinks bool
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() *Config {
	return &Config{
		Extensions:     []string{".yaml", ".yml", ".json"},
		MaxFileSize:    1 << 20,
		SkipHidden:     true,
		FollowSymlinks: true,
	}
}

// Loader reads policy documents from files. A file holds one or more YAML
// (or JSON) documents, each one policy, checked against an embedded JSON
// Schema before decoding.
type Loader struct {
	config *Config
	schema *jsonschema.Schema
	logger *slog.Logger
}

// New creates a policy file loader.
func New(config *Config, logger *slog.Logger) (*Loader, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(policySchema)); err != nil {
		return nil, fmt.Errorf("failed to add policy schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy schema: %w", err)
	}

	return &Loader{
		config: config,
		schema: schema,
		logger: logger.With("component", "policy.loader"),
	}, nil
}

// document is the on-disk shape of a policy.
type document struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Category      model.Category    `json:"category"`
	Priority      int               `json:"priority"`
	EffectiveFrom string            `json:"effectiveFrom"`
	Conditions    []model.Condition `json:"conditions"`
	Actions       []model.Action    `json:"actions"`
}

func (d *document) policy() (*model.Policy, error) {
	p := &model.Policy{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		Category:      d.Category,
		Priority:      d.Priority,
		Conditions:    d.Conditions,
		Actions:       d.Actions,
		ApprovalState: model.ApprovalDraft,
	}
	if d.EffectiveFrom != "" {
		t, err := model.ParseDate(d.EffectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("effectiveFrom: %w", err)
		}
		p.EffectiveFrom = t
	}
	return p, nil
}

// Parse decodes every policy document in data. name is used in errors.
func (l *Loader) Parse(name string, data []byte) ([]*model.Policy, error) {
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: name, Message: "file contains invalid UTF-8 encoding"}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []*model.Policy
	for n := 1; ; n++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{FilePath: name, Document: n, Message: "invalid YAML", Cause: err}
		}

		var raw interface{}
		if err := node.Decode(&raw); err != nil {
			return nil, &ParseError{FilePath: name, Document: n, Line: node.Line, Message: "invalid YAML", Cause: err}
		}
		if raw == nil {
			continue
		}

		p, err := l.decode(raw)
		if err != nil {
			return nil, &ParseError{FilePath: name, Document: n, Line: node.Line, Message: "invalid policy", Cause: err}
		}
		out = append(out, p)
	}
	return out, nil
}

// decode checks raw against the schema and builds the policy.
func (l *Loader) decode(raw interface{}) (*model.Policy, error) {
	data, err := json.Marshal(jsonCompatible(raw))
	if err != nil {
		return nil, err
	}

	var generic interface{}
	gdec := json.NewDecoder(bytes.NewReader(data))
	gdec.UseNumber()
	if err := gdec.Decode(&generic); err != nil {
		return nil, err
	}
	if err := l.schema.Validate(generic); err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.policy()
}

// jsonCompatible rewrites YAML-decoded values into types encoding/json accepts.
func jsonCompatible(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, val := range x {
			x[k] = jsonCompatible(val)
		}
		return x
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return m
	case []interface{}:
		for i := range x {
			x[i] = jsonCompatible(x[i])
		}
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// LoadFile reads the policies of a single file.
func (l *Loader) LoadFile(path string) ([]*model.Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{FilePath: path, Message: "file not found", Cause: err}
		}
		if os.IsPermission(err) {
			return nil, &LoadError{FilePath: path, Message: "permission denied", Cause: err}
		}
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: path, Message: "not a regular file"}
	}
	if info.Size() > l.config.MaxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), l.config.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	return l.Parse(path, data)
}

// LoadDir loads every policy file under dir. Files that fail are reported
// in an *ErrorList alongside the policies that loaded. A policy ID defined
// in more than one place is an error for every later definition.
func (l *Loader) LoadDir(dir string) ([]*model.Policy, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{FilePath: dir, Message: "directory not found", Cause: err}
		}
		return nil, &LoadError{FilePath: dir, Message: "failed to access directory", Cause: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{FilePath: dir, Message: "not a directory"}
	}

	files, err := l.Files(dir)
	if err != nil {
		return nil, err
	}

	var policies []*model.Policy
	seen := make(map[string]string)
	errList := &ErrorList{}
	for _, path := range files {
		ps, err := l.LoadFile(path)
		if err != nil {
			errList.Add(err)
			continue
		}
		for _, p := range ps {
			if first, dup := seen[p.ID]; dup {
				errList.Add(&ParseError{
					FilePath: path,
					Message:  fmt.Sprintf("policy id %q is already defined in %s", p.ID, first),
				})
				continue
			}
			seen[p.ID] = path
			policies = append(policies, p)
		}
	}

	l.logger.Debug("policy directory loaded",
		"dir", dir,
		"files", len(files),
		"policies", len(policies),
		"errors", len(errList.Errors),
	)
	if errList.HasErrors() {
		return policies, errList
	}
	return policies, nil
}

// Files returns the policy files under dir in lexical order, applying the
// extension, hidden-file and symlink rules of the loader config.
func (l *Loader) Files(dir string) ([]string, error) {
	var files []string
	visited := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if l.config.SkipHidden && strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !l.config.FollowSymlinks {
				return nil
			}
			real, err := filepath.EvalSymlinks(path)
			if err != nil {
				return &LoadError{FilePath: path, Message: "failed to resolve symlink", Cause: err}
			}
			if visited[real] {
				return nil
			}
			visited[real] = true
			if !l.hasValidExtension(real) {
				return nil
			}
			files = append(files, path)
			return nil
		}

		if l.hasValidExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to walk directory", Cause: err}
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) hasValidExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range l.config.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}
