package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and pins
// the trace and movement log against the golden files.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		path := path
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed: %v", result.Errors)
		})
	}
}

func TestRunUnknownOp(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown-op",
		Description: "x",
		Flow: []Step{
			{Op: "ingredient.vaporize", Args: map[string]any{}},
		},
		Assertions: []Assertion{{Type: AssertMovementCount, Count: 0}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
}

func TestRunUnknownAlias(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown-alias",
		Description: "x",
		Flow: []Step{
			{Op: "recipe.cost", Args: map[string]any{"recipe": "ghost"}},
		},
		Assertions: []Assertion{{Type: AssertMovementCount, Count: 0}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown alias")
}

// A mismatched expect clause fails the result rather than aborting the
// run: the remaining steps and assertions still execute.
func TestExpectMismatchFailsResult(t *testing.T) {
	scenario := &Scenario{
		Name:        "expect-mismatch",
		Description: "x",
		Setup: []Step{
			{Op: "ingredient.create", Args: map[string]any{
				"as": "salt", "name": "salt", "unit": "g", "cost": "0.001",
			}},
		},
		Flow: []Step{
			{
				Op:     "ingredient.set_cost",
				Args:   map[string]any{"ingredient": "salt", "cost": "0.002"},
				Expect: &ExpectClause{Outcome: "invalid_cost"},
			},
		},
		Assertions: []Assertion{{Type: AssertMovementCount, Count: 0}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "outcome ok, expected invalid_cost")
}

func TestRunRejectsFloatQuantities(t *testing.T) {
	scenario := &Scenario{
		Name:        "float-quantity",
		Description: "x",
		Flow: []Step{
			{Op: "ingredient.create", Args: map[string]any{
				"as": "salt", "name": "salt", "unit": "g", "cost": 0.001,
			}},
		},
		Assertions: []Assertion{{Type: AssertMovementCount, Count: 0}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quoted string")
}

func TestLoadScenarioValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: x\nflow:\n  - op: sweep\n    args: {}\nassertions:\n  - type: movement_count\n",
			wantErr: "name is required",
		},
		{
			name:    "empty flow",
			content: "name: x\ndescription: x\nflow: []\nassertions:\n  - type: movement_count\n",
			wantErr: "flow list is required",
		},
		{
			name:    "unknown field",
			content: "name: x\ndescription: x\nflows:\n  - op: sweep\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown assertion type",
			content: "name: x\ndescription: x\nflow:\n  - op: sweep\n    args: {}\nassertions:\n  - type: balance\n",
			wantErr: "unknown assertion type",
		},
		{
			name:    "stock assertion missing quantity",
			content: "name: x\ndescription: x\nflow:\n  - op: sweep\n    args: {}\nassertions:\n  - type: stock\n    ingredient: flour\n",
			wantErr: "ingredient and quantity are required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
