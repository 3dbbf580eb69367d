package ctf

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	types "github.com/procurelabs/vendorgate-backend/internal/domain/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	"github.com/procurelabs/vendorgate-backend/internal/rules"
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9_]{3,64}$`)
	categories   = map[string]bool{"prompt_injection": true, "data_exfiltration": true, "business_logic": true, "access_control": true}
	difficulties = map[string]bool{"easy": true, "medium": true, "hard": true, "expert": true}
	rarities     = map[string]bool{"common": true, "uncommon": true, "rare": true, "legendary": true}
)

const (
	maxTitleLen       = 120
	maxDescriptionLen = 2000
	maxPoints         = 10000
)

type ruleSpec struct {
	Class  string         `yaml:"class"`
	Config map[string]any `yaml:"config"`
}

// definitionFile is one declarative challenge or badge, discriminated by
// kind.
type definitionFile struct {
	Kind        string    `yaml:"kind"`
	ID          string    `yaml:"id"`
	Version     int       `yaml:"version"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description"`
	Category    string    `yaml:"category"`
	Difficulty  string    `yaml:"difficulty"`
	Points      int       `yaml:"points"`
	Rarity      string    `yaml:"rarity"`
	Detector    *ruleSpec `yaml:"detector"`
	Evaluator   *ruleSpec `yaml:"evaluator"`
	Active      *bool     `yaml:"active"`
}

type LoadResult struct {
	Challenges int
	Badges     int
	Skipped    []string
}

// Loader upserts definition files into the store. Loading is idempotent:
// identical content is a no-op, changed content overwrites under the same
// slug id.
type Loader struct {
	log      *logger.Logger
	defs     ctfrepos.DefinitionRepo
	registry *rules.Registry
	dir      string
}

func NewLoader(baseLog *logger.Logger, defs ctfrepos.DefinitionRepo, registry *rules.Registry, dir string) *Loader {
	return &Loader{
		log:      baseLog.With("service", "DefinitionLoader"),
		defs:     defs,
		registry: registry,
		dir:      dir,
	}
}

// LoadDir validates and upserts every *.yaml/*.yml file in the directory.
// Invalid files are skipped with a log line, never partially applied.
func (l *Loader) LoadDir(ctx context.Context) (*LoadResult, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir %s: %w", l.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	res := &LoadResult{}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			l.log.Warn("definition file unreadable, skipped", "file", name, "error", err)
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := l.loadOne(ctx, raw, res); err != nil {
			l.log.Warn("definition file rejected", "file", name, "error", err)
			res.Skipped = append(res.Skipped, name)
		}
	}
	l.log.Info("definitions loaded", "challenges", res.Challenges, "badges", res.Badges, "skipped", len(res.Skipped))
	return res, nil
}

func (l *Loader) loadOne(ctx context.Context, raw []byte, res *LoadResult) error {
	var def definitionFile
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if err := l.validateCommon(&def); err != nil {
		return err
	}

	switch def.Kind {
	case "challenge":
		return l.upsertChallenge(ctx, &def, res)
	case "badge":
		return l.upsertBadge(ctx, &def, res)
	default:
		return fmt.Errorf("unknown kind %q", def.Kind)
	}
}

func (l *Loader) validateCommon(def *definitionFile) error {
	if !slugPattern.MatchString(def.ID) {
		return fmt.Errorf("invalid id %q", def.ID)
	}
	if def.Title == "" || len(def.Title) > maxTitleLen {
		return fmt.Errorf("title missing or over %d chars", maxTitleLen)
	}
	if len(def.Description) > maxDescriptionLen {
		return fmt.Errorf("description over %d chars", maxDescriptionLen)
	}
	if def.Version < 0 {
		return fmt.Errorf("version must be non-negative")
	}
	return nil
}

func (l *Loader) upsertChallenge(ctx context.Context, def *definitionFile, res *LoadResult) error {
	if !categories[def.Category] {
		return fmt.Errorf("invalid category %q", def.Category)
	}
	if !difficulties[def.Difficulty] {
		return fmt.Errorf("invalid difficulty %q", def.Difficulty)
	}
	if def.Points < 0 || def.Points > maxPoints {
		return fmt.Errorf("points out of range: %d", def.Points)
	}
	if def.Detector == nil || def.Detector.Class == "" {
		return fmt.Errorf("detector.class required")
	}

	config, err := configJSON(def.Detector.Config)
	if err != nil {
		return err
	}
	// Constructing the rule up front rejects bad config at load time
	// instead of per-event. An unregistered class is only a warning: the
	// definition is stored but inert until the class ships.
	if l.registry.HasDetector(def.Detector.Class) {
		if _, err := l.registry.NewDetector(def.Detector.Class, config); err != nil {
			return fmt.Errorf("detector config invalid: %w", err)
		}
	} else {
		l.log.Warn("detector class not registered, definition will be inert", "challenge_id", def.ID, "detector_class", def.Detector.Class)
	}

	version := def.Version
	if version == 0 {
		version = 1
	}
	row := &types.ChallengeDefinition{
		ID:             def.ID,
		Version:        version,
		Title:          def.Title,
		Description:    def.Description,
		Category:       def.Category,
		Difficulty:     def.Difficulty,
		Points:         def.Points,
		DetectorClass:  def.Detector.Class,
		DetectorConfig: datatypes.JSON(config),
		Active:         def.Active == nil || *def.Active,
	}
	if err := l.defs.UpsertChallenge(ctx, nil, row); err != nil {
		return fmt.Errorf("upsert challenge %s: %w", def.ID, err)
	}
	res.Challenges++
	return nil
}

func (l *Loader) upsertBadge(ctx context.Context, def *definitionFile, res *LoadResult) error {
	if !rarities[def.Rarity] {
		return fmt.Errorf("invalid rarity %q", def.Rarity)
	}
	if def.Evaluator == nil || def.Evaluator.Class == "" {
		return fmt.Errorf("evaluator.class required")
	}

	config, err := configJSON(def.Evaluator.Config)
	if err != nil {
		return err
	}
	if l.registry.HasEvaluator(def.Evaluator.Class) {
		if _, err := l.registry.NewEvaluator(def.Evaluator.Class, config); err != nil {
			return fmt.Errorf("evaluator config invalid: %w", err)
		}
	} else {
		l.log.Warn("evaluator class not registered, definition will be inert", "badge_id", def.ID, "evaluator_class", def.Evaluator.Class)
	}

	version := def.Version
	if version == 0 {
		version = 1
	}
	row := &types.BadgeDefinition{
		ID:              def.ID,
		Version:         version,
		Title:           def.Title,
		Description:     def.Description,
		Rarity:          def.Rarity,
		EvaluatorClass:  def.Evaluator.Class,
		EvaluatorConfig: datatypes.JSON(config),
		Active:          def.Active == nil || *def.Active,
	}
	if err := l.defs.UpsertBadge(ctx, nil, row); err != nil {
		return fmt.Errorf("upsert badge %s: %w", def.ID, err)
	}
	res.Badges++
	return nil
}

func configJSON(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return raw, nil
}
