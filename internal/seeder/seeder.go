package seeder

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"credentials/internal/badges/models"
	badgeservice "credentials/internal/badges/service"
	dErrors "credentials/pkg/domain-errors"
)

// File is a badge configuration seed.
//
//	[[templates]]
//	external_id = "6a3c..."
//	name = "Course passed"
//	activate = true
//
//	  [[templates.requirements]]
//	  key = "passed"
//	  event_type = "org.openedx.learning.course.passing.status.updated.v1"
//
//	    [[templates.requirements.rules]]
//	    path = "course_passing_status.status"
//	    value = "passing"
type File struct {
	Templates []Template `toml:"templates"`
}

// Template seeds one badge template with its rules.
type Template struct {
	ExternalID   uuid.UUID     `toml:"external_id"`
	Name         string        `toml:"name"`
	Description  string        `toml:"description"`
	IconURL      string        `toml:"icon_url"`
	Activate     bool          `toml:"activate"`
	Requirements []Requirement `toml:"requirements"`
	Penalties    []Penalty     `toml:"penalties"`
}

// Requirement seeds one requirement. Key names it for penalties in the same template.
type Requirement struct {
	Key         string `toml:"key"`
	EventType   string `toml:"event_type"`
	Description string `toml:"description"`
	Group       string `toml:"group"`
	Rules       []Rule `toml:"rules"`
}

// Penalty seeds one penalty over requirement keys.
type Penalty struct {
	Requirements []string `toml:"requirements"`
	Description  string   `toml:"description"`
	Rules        []Rule   `toml:"rules"`
}

// Rule seeds one data rule.
type Rule struct {
	Path     string `toml:"path"`
	Operator string `toml:"operator"`
	Value    string `toml:"value"`
}

// Configurator is the badge configuration surface the seeder writes through.
type Configurator interface {
	FindTemplateByExternalID(ctx context.Context, externalID uuid.UUID) (*models.BadgeTemplate, error)
	CreateTemplate(ctx context.Context, cmd badgeservice.CreateTemplateCommand) (*models.BadgeTemplate, error)
	AddRequirement(ctx context.Context, templateID uuid.UUID, spec badgeservice.RequirementSpec) (*models.BadgeRequirement, error)
	AddPenalty(ctx context.Context, spec badgeservice.PenaltySpec) (*models.BadgePenalty, error)
	ActivateTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error)
}

// Result summarizes one seeding run.
type Result struct {
	Created int
	Skipped int
}

// Seeder writes badge templates from a seed file through the configuration service.
type Seeder struct {
	badges Configurator
	logger *slog.Logger
}

// New creates a new seeder
func New(badges Configurator, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Seeder{badges: badges, logger: logger}
}

// Load parses a seed file from disk.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Decode parses a seed from r.
func Decode(r io.Reader) (*File, error) {
	var f File
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &f, nil
}

// Seed creates every template of the file that does not exist yet. Templates
// already present under their external ID are left untouched.
func (s *Seeder) Seed(ctx context.Context, f *File) (Result, error) {
	var res Result
	for _, t := range f.Templates {
		_, err := s.badges.FindTemplateByExternalID(ctx, t.ExternalID)
		if err == nil {
			s.logger.InfoContext(ctx, "badge template already seeded", "external_id", t.ExternalID)
			res.Skipped++
			continue
		}
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return res, err
		}
		if err := s.seedTemplate(ctx, t); err != nil {
			return res, fmt.Errorf("failed to seed template %q: %w", t.Name, err)
		}
		res.Created++
	}
	s.logger.InfoContext(ctx, "badge templates seeded",
		"created", res.Created,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (s *Seeder) seedTemplate(ctx context.Context, t Template) error {
	tmpl, err := s.badges.CreateTemplate(ctx, badgeservice.CreateTemplateCommand{
		ExternalID:  t.ExternalID,
		Name:        t.Name,
		Description: t.Description,
		IconURL:     t.IconURL,
		Origin:      models.OriginOpenEdx,
	})
	if err != nil {
		return err
	}

	keys := make(map[string]uuid.UUID, len(t.Requirements))
	for _, r := range t.Requirements {
		req, err := s.badges.AddRequirement(ctx, tmpl.ID, badgeservice.RequirementSpec{
			EventType:   r.EventType,
			Description: r.Description,
			Group:       r.Group,
			Rules:       ruleSpecs(r.Rules),
		})
		if err != nil {
			return err
		}
		if r.Key != "" {
			keys[r.Key] = req.ID
		}
	}

	for _, p := range t.Penalties {
		ids := make([]uuid.UUID, 0, len(p.Requirements))
		for _, key := range p.Requirements {
			id, ok := keys[key]
			if !ok {
				return dErrors.NewValidation("penalty references an unknown requirement", map[string]string{
					"requirements": fmt.Sprintf("no requirement with key %q", key),
				})
			}
			ids = append(ids, id)
		}
		if _, err := s.badges.AddPenalty(ctx, badgeservice.PenaltySpec{
			RequirementIDs: ids,
			Description:    p.Description,
			Rules:          ruleSpecs(p.Rules),
		}); err != nil {
			return err
		}
	}

	if t.Activate {
		if _, err := s.badges.ActivateTemplate(ctx, tmpl.ID); err != nil {
			return err
		}
	}
	return nil
}

func ruleSpecs(rules []Rule) []badgeservice.RuleSpec {
	out := make([]badgeservice.RuleSpec, 0, len(rules))
	for _, r := range rules {
		out = append(out, badgeservice.RuleSpec{Path: r.Path, Operator: r.Operator, Value: r.Value})
	}
	return out
}
