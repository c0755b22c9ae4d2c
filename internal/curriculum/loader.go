package curriculum

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Rewards applied to catalog entries that omit xp_reward.
const (
	DefaultStepXP    = 10
	DefaultChapterXP = 100
)

// ErrInvalidCatalog is returned when a catalog file fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

//go:embed catalog.schema.json
var catalogSchema string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(catalogSchema))
	})
	return schema, schemaErr
}

// catalogFile is the on-disk layout of one grade/subject slice.
type catalogFile struct {
	Grade   GradeLevel `yaml:"grade"`
	Subject Subject    `yaml:"subject"`
	Modules []Module   `yaml:"modules"`

	declared rewardLayout
}

// rewardLayout mirrors the catalog tree down to the xp_reward keys so an
// omitted reward can be told apart from an explicit 0.
type rewardLayout struct {
	Modules []struct {
		Units []struct {
			Chapters []struct {
				XPReward *int `yaml:"xp_reward"`
				Steps    []struct {
					XPReward *int `yaml:"xp_reward"`
				} `yaml:"steps"`
			} `yaml:"chapters"`
		} `yaml:"units"`
	} `yaml:"modules"`
}

// LoaderConfig configures a Loader. The defaults are used as given: a zero
// DefaultStepXP makes omitted step rewards worth nothing. DefaultChapterXP
// must be positive.
type LoaderConfig struct {
	RootDir          string
	DefaultStepXP    int
	DefaultChapterXP int
}

// DefaultLoaderConfig returns a config for root with the standard rewards.
func DefaultLoaderConfig(root string) LoaderConfig {
	return LoaderConfig{
		RootDir:          root,
		DefaultStepXP:    DefaultStepXP,
		DefaultChapterXP: DefaultChapterXP,
	}
}

// Loader loads and caches the curriculum catalog from the filesystem.
type Loader struct {
	rootDir   string
	stepXP    int
	chapterXP int
	subjects  map[GradeLevel][]Subject
	modules   Tree
	digest    string
	mu        sync.RWMutex
}

// NewLoader creates a new curriculum loader and loads all content.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if cfg.DefaultStepXP < 0 {
		return nil, fmt.Errorf("default step xp %d is negative", cfg.DefaultStepXP)
	}
	if cfg.DefaultChapterXP <= 0 {
		return nil, fmt.Errorf("default chapter xp %d is not positive", cfg.DefaultChapterXP)
	}
	l := &Loader{
		rootDir:   cfg.RootDir,
		stepXP:    cfg.DefaultStepXP,
		chapterXP: cfg.DefaultChapterXP,
	}

	if err := l.Reload(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "subjects", l.subjectCount(), "digest", l.Digest())
	return l, nil
}

// Reload re-reads every catalog file under the root directory. On error the
// previously loaded catalog is kept.
func (l *Loader) Reload() error {
	subjects := make(map[GradeLevel][]Subject)
	modules := make(Tree)
	hash, err := blake2b.New256(nil)
	if err != nil {
		return err
	}

	err = filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		file, ok, err := parseCatalogFile(path, data)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if _, dup := modules[file.Grade][file.Subject.ID]; dup {
			return fmt.Errorf("%s: subject %s/%s defined twice: %w", path, file.Grade, file.Subject.ID, ErrInvalidCatalog)
		}

		l.applyDefaults(file)
		Normalize(file.Modules)

		if modules[file.Grade] == nil {
			modules[file.Grade] = make(map[string][]Module)
		}
		modules[file.Grade][file.Subject.ID] = file.Modules
		subjects[file.Grade] = append(subjects[file.Grade], file.Subject)

		rel, _ := filepath.Rel(l.rootDir, path)
		hash.Write([]byte(rel))
		hash.Write(data)
		return nil
	})
	if err != nil {
		return err
	}

	for grade := range subjects {
		list := subjects[grade]
		sort.SliceStable(list, func(a, b int) bool { return list[a].Order < list[b].Order })
	}

	l.mu.Lock()
	l.subjects = subjects
	l.modules = modules
	l.digest = hex.EncodeToString(hash.Sum(nil))
	l.mu.Unlock()
	return nil
}

// Subjects returns the subjects offered for a grade, in display order.
func (l *Loader) Subjects(grade GradeLevel) []Subject {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Subject(nil), l.subjects[grade]...)
}

// Subject returns one subject of a grade.
func (l *Loader) Subject(grade GradeLevel, id string) (Subject, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.subjects[grade] {
		if s.ID == id {
			return s, true
		}
	}
	return Subject{}, false
}

// Tree returns a fresh copy of the whole catalog with its declared statuses.
func (l *Loader) Tree() Tree {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.modules.Clone()
}

// Digest fingerprints the loaded catalog files.
func (l *Loader) Digest() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.digest
}

func (l *Loader) subjectCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, s := range l.subjects {
		n += len(s)
	}
	return n
}

// applyDefaults runs before Normalize, while the decoded slices still line up
// with file.declared.
func (l *Loader) applyDefaults(file catalogFile) {
	modules := file.Modules
	for i := range modules {
		for j := range modules[i].Units {
			chapters := modules[i].Units[j].Chapters
			declared := file.declared.Modules[i].Units[j].Chapters
			for k := range chapters {
				if chapters[k].Status == "" {
					chapters[k].Status = StatusLocked
				}
				if declared[k].XPReward == nil {
					chapters[k].XPReward = l.chapterXP
				}
				for s := range chapters[k].Steps {
					step := &chapters[k].Steps[s]
					if step.Status == "" {
						step.Status = StatusLocked
					}
					if declared[k].Steps[s].XPReward == nil {
						step.XPReward = l.stepXP
					}
				}
			}
		}
	}
}

// ValidateFile checks a single catalog file against the schema and the ID
// uniqueness rules without loading it.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, _, err = parseCatalogFile(path, data)
	return err
}

// parseCatalogFile returns ok=false for YAML that is not a catalog file.
func parseCatalogFile(path string, data []byte) (catalogFile, bool, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
		return catalogFile{}, false, nil
	}
	if _, ok := doc["grade"]; !ok {
		return catalogFile{}, false, nil // Not a catalog file
	}

	s, err := compiledSchema()
	if err != nil {
		return catalogFile{}, false, fmt.Errorf("compiling catalog schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return catalogFile{}, false, fmt.Errorf("%s: %w", path, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return catalogFile{}, false, fmt.Errorf("%s: %s: %w", path, strings.Join(msgs, "; "), ErrInvalidCatalog)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return catalogFile{}, false, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &file.declared); err != nil {
		return catalogFile{}, false, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkIDs(file.Modules); err != nil {
		return catalogFile{}, false, fmt.Errorf("%s: %w", path, err)
	}
	return file, true, nil
}

// checkIDs enforces unique chapter IDs per subject and unique step IDs per
// chapter, which the progression index relies on.
func checkIDs(modules []Module) error {
	chapters := make(map[string]bool)
	for _, m := range modules {
		for _, u := range m.Units {
			for _, c := range u.Chapters {
				if chapters[c.ID] {
					return fmt.Errorf("duplicate chapter id %q: %w", c.ID, ErrInvalidCatalog)
				}
				chapters[c.ID] = true

				steps := make(map[string]bool)
				for _, s := range c.Steps {
					if steps[s.ID] {
						return fmt.Errorf("duplicate step id %q in chapter %q: %w", s.ID, c.ID, ErrInvalidCatalog)
					}
					steps[s.ID] = true
				}
			}
		}
	}
	return nil
}
