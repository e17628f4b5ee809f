package recipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validRecipe = `
apiVersion: v1
kind: Recipe
metadata:
  alias: test
stages:
  - slug: thesis
    steps:
      - id: plan-1
        step: 1
        slug: plan
        job_type: plan
        output_type: business_case
        inputs_required:
          - document_key: seed_prompt
            required: false
          - document_key: header_context
        outputs:
          - document_key: business_case
      - id: exec-1
        step: 2
        slug: exec
        job_type: EXECUTE
        output_type: feature_spec
        granularity: all_to_one
`

func TestParseAppliesDefaults(t *testing.T) {
	def, err := Parse([]byte(validRecipe))
	require.NoError(t, err)
	require.Len(t, def.Stages, 1)

	plan := def.Stages[0].Steps[0]
	require.Equal(t, "PLAN", plan.JobType)
	require.Equal(t, GranularityPerModel, plan.Granularity)
	require.Equal(t, "thesis", plan.Stage)
	require.False(t, plan.InputsRequired[0].Required)
	require.True(t, plan.InputsRequired[1].Required)
	require.Equal(t, "thesis", plan.Outputs[0].ContributionTypeOr("thesis"))

	require.Equal(t, GranularityAllToOne, def.Stages[0].Steps[1].Granularity)
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "wrong kind", yaml: "apiVersion: v1\nkind: Job\nmetadata: {alias: a}\nstages: [{slug: s, steps: []}]\n"},
		{name: "missing alias", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {}\nstages: [{slug: s, steps: []}]\n"},
		{name: "no stages", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {alias: a}\nstages: []\n"},
		{name: "bad job type", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {alias: a}\nstages: [{slug: s, steps: [{id: x, step: 1, job_type: SUMMARIZE, output_type: o}]}]\n"},
		{name: "missing output type", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {alias: a}\nstages: [{slug: s, steps: [{id: x, step: 1, job_type: PLAN}]}]\n"},
		{name: "duplicate id", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {alias: a}\nstages: [{slug: s, steps: [{id: x, step: 1, job_type: PLAN, output_type: o}, {id: x, step: 2, job_type: PLAN, output_type: o}]}]\n"},
		{name: "duplicate number", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {alias: a}\nstages: [{slug: s, steps: [{id: x, step: 1, job_type: PLAN, output_type: o}, {id: y, step: 1, job_type: PLAN, output_type: o}]}]\n"},
		{name: "bad granularity", yaml: "apiVersion: v1\nkind: Recipe\nmetadata: {alias: a}\nstages: [{slug: s, steps: [{id: x, step: 1, job_type: PLAN, output_type: o, granularity: everything}]}]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestCatalogLookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validRecipe), 0o600))

	catalog, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test", catalog.Alias())

	step, err := catalog.GetRecipeStep(context.Background(), "plan-1")
	require.NoError(t, err)
	require.NotNil(t, step)
	require.Equal(t, "business_case", step.OutputType)

	missing, err := catalog.GetRecipeStep(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	byNumber, ok := catalog.StepByNumber("thesis", 2)
	require.True(t, ok)
	require.Equal(t, "exec-1", byNumber.ID)

	_, ok = catalog.StepByNumber("synthesis", 1)
	require.False(t, ok)
	require.Len(t, catalog.Steps("thesis"), 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestShippedRecipeParses(t *testing.T) {
	catalog, err := Load(filepath.Join("..", "..", "recipes.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, catalog.Steps("thesis"))
}
