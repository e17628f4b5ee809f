package recipe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	APIVersionV1 = "v1"
	KindRecipe   = "Recipe"

	GranularityPerModel  = "per_model"
	GranularityAllToOne  = "all_to_one"
	GranularityPerSource = "per_source_document"
	GranularityPairwise  = "pairwise_by_origin"
)

// Definition models the root recipe document.
type Definition struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Stages     []Stage  `yaml:"stages" json:"stages"`
}

type Metadata struct {
	Alias       string            `yaml:"alias" json:"alias"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Stage groups the ordered steps of one pipeline stage.
type Stage struct {
	Slug  string `yaml:"slug" json:"slug"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one template-defined unit of a stage. OutputType names the
// artifact the step ultimately produces.
type Step struct {
	ID               string   `yaml:"id" json:"id"`
	Stage            string   `yaml:"-" json:"stage"`
	Number           int      `yaml:"step" json:"step"`
	Slug             string   `yaml:"slug" json:"slug"`
	JobType          string   `yaml:"job_type" json:"job_type"`
	OutputType       string   `yaml:"output_type" json:"output_type"`
	Granularity      string   `yaml:"granularity,omitempty" json:"granularity,omitempty"`
	PromptTemplateID string   `yaml:"prompt_template_id,omitempty" json:"prompt_template_id,omitempty"`
	InputsRequired   []Input  `yaml:"inputs_required,omitempty" json:"inputs_required,omitempty"`
	Outputs          []Output `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// Input is a document a step consumes.
type Input struct {
	DocumentKey string `yaml:"document_key" json:"document_key"`
	Stage       string `yaml:"stage,omitempty" json:"stage,omitempty"`
	Required    bool   `yaml:"required" json:"required"`
}

// Output is a document a step's children produce.
type Output struct {
	DocumentKey      string `yaml:"document_key" json:"document_key"`
	ContributionType string `yaml:"contribution_type,omitempty" json:"contribution_type,omitempty"`
	TemplateFilename string `yaml:"template_filename,omitempty" json:"template_filename,omitempty"`
}

// UnmarshalYAML sets defaults while deserialising a step.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type rawStep Step
	rs := rawStep{Granularity: GranularityPerModel}
	if err := value.Decode(&rs); err != nil {
		return err
	}
	*s = Step(rs)
	if s.Granularity == "" {
		s.Granularity = GranularityPerModel
	}
	s.JobType = strings.ToUpper(strings.TrimSpace(s.JobType))
	return nil
}

// UnmarshalYAML defaults required to true unless stated otherwise.
func (in *Input) UnmarshalYAML(value *yaml.Node) error {
	type rawInput Input
	ri := rawInput{Required: true}
	if err := value.Decode(&ri); err != nil {
		return err
	}
	*in = Input(ri)
	return nil
}

// Parse parses YAML bytes into a Definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate performs semantic validation on the definition.
func (d *Definition) Validate() error {
	if d.APIVersion != APIVersionV1 {
		return fmt.Errorf("unsupported apiVersion: %s", d.APIVersion)
	}
	if d.Kind != KindRecipe {
		return fmt.Errorf("unsupported kind: %s", d.Kind)
	}
	if strings.TrimSpace(d.Metadata.Alias) == "" {
		return fmt.Errorf("metadata.alias is required")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("stages must contain at least one entry")
	}

	ids := make(map[string]string)
	for i := range d.Stages {
		stage := &d.Stages[i]
		if strings.TrimSpace(stage.Slug) == "" {
			return fmt.Errorf("stages[%d].slug is required", i)
		}
		if err := validateSteps(stage, ids); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(stage *Stage, ids map[string]string) error {
	numbers := make(map[int]struct{}, len(stage.Steps))
	for i := range stage.Steps {
		step := &stage.Steps[i]
		step.Stage = stage.Slug

		if strings.TrimSpace(step.ID) == "" {
			return fmt.Errorf("stages[%s].steps[%d].id is required", stage.Slug, i)
		}
		if other, exists := ids[step.ID]; exists {
			return fmt.Errorf("duplicate step id %q (stages %s and %s)", step.ID, other, stage.Slug)
		}
		ids[step.ID] = stage.Slug

		if step.Number <= 0 {
			return fmt.Errorf("step %q: step number must be positive", step.ID)
		}
		if _, exists := numbers[step.Number]; exists {
			return fmt.Errorf("step %q: duplicate step number %d in stage %s", step.ID, step.Number, stage.Slug)
		}
		numbers[step.Number] = struct{}{}

		if !models.JobType(step.JobType).Valid() {
			return fmt.Errorf("step %q: job_type must be one of [%s,%s,%s]", step.ID, models.JobTypePlan, models.JobTypeExecute, models.JobTypeRender)
		}
		if strings.TrimSpace(step.OutputType) == "" {
			return fmt.Errorf("step %q: output_type is required", step.ID)
		}
		switch step.Granularity {
		case GranularityPerModel, GranularityAllToOne, GranularityPerSource, GranularityPairwise:
		default:
			return fmt.Errorf("step %q: unsupported granularity %q", step.ID, step.Granularity)
		}
		for j, out := range step.Outputs {
			if strings.TrimSpace(out.DocumentKey) == "" {
				return fmt.Errorf("step %q: outputs[%d].document_key is required", step.ID, j)
			}
		}
	}
	return nil
}

// Catalog indexes the steps of a recipe definition.
type Catalog struct {
	def     *Definition
	byID    map[string]*Step
	byStage map[string][]*Step
}

// Load reads and indexes the recipe file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	return NewCatalog(def), nil
}

func NewCatalog(def *Definition) *Catalog {
	c := &Catalog{
		def:     def,
		byID:    make(map[string]*Step),
		byStage: make(map[string][]*Step),
	}
	for i := range def.Stages {
		stage := &def.Stages[i]
		for j := range stage.Steps {
			step := &stage.Steps[j]
			step.Stage = stage.Slug
			c.byID[step.ID] = step
			c.byStage[stage.Slug] = append(c.byStage[stage.Slug], step)
		}
	}
	return c
}

// GetRecipeStep returns the step with id, or nil when no such step exists.
func (c *Catalog) GetRecipeStep(_ context.Context, id string) (*Step, error) {
	step, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, nil
	}
	return step, nil
}

// StepByNumber returns the step numbered n within stage.
func (c *Catalog) StepByNumber(stage string, n int) (*Step, bool) {
	for _, step := range c.byStage[stage] {
		if step.Number == n {
			return step, true
		}
	}
	return nil, false
}

// Steps returns the steps declared for stage in file order.
func (c *Catalog) Steps(stage string) []*Step {
	return c.byStage[stage]
}

func (c *Catalog) Alias() string {
	return c.def.Metadata.Alias
}

// ContributionTypeOr returns the contribution type an output is saved under,
// falling back to the stage slug.
func (o Output) ContributionTypeOr(stage string) string {
	if strings.TrimSpace(o.ContributionType) != "" {
		return o.ContributionType
	}
	return stage
}
