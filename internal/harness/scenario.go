package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario. Scenarios establish a
// ledger and recipes in setup, run a flow of operations with expected
// outcomes, and assert on the final stock, costs, and markers.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Setup contains steps run before the main flow to establish state.
	// Setup steps must succeed; an unexpected outcome aborts the run.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the main steps with expected outcome validation.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation of a scenario. Op selects the operation; Args
// carries its parameters. Steps that create entities register the id
// under the "as" arg so later steps can reference it by alias.
type Step struct {
	// Op is the operation name, e.g. "ingredient.create",
	// "ingredient.set_cost", "recipe.create", "recipe.cost",
	// "order.transition", "sweep".
	Op string `yaml:"op"`

	// Args contains the operation parameters. Entity references use the
	// alias registered by the creating step's "as" arg.
	Args map[string]any `yaml:"args"`

	// Expect specifies the expected outcome. If nil the step must
	// succeed ("ok").
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is "ok" or a taxonomy name such as "insufficient_stock",
	// "unknown_unit", "not_found".
	Outcome string `yaml:"outcome"`

	// Detail contains expected detail field values. Subset match - only
	// specified fields are validated.
	Detail map[string]any `yaml:"detail,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "stock": ingredient's quantity on hand equals Quantity
	// - "recipe_cost": recipe's computed total equals Total
	// - "marker": order's deduction marker is in State ("deducted",
	//   "restocked", or "absent")
	// - "movement_count": the movement log holds exactly Count entries
	// - "low_stock": exactly Ingredients are below their thresholds
	Type string `yaml:"type"`

	Ingredient  string   `yaml:"ingredient,omitempty"`
	Quantity    string   `yaml:"quantity,omitempty"`
	Recipe      string   `yaml:"recipe,omitempty"`
	Total       string   `yaml:"total,omitempty"`
	Order       string   `yaml:"order,omitempty"`
	State       string   `yaml:"state,omitempty"`
	Count       int      `yaml:"count,omitempty"`
	Ingredients []string `yaml:"ingredients,omitempty"`
}

// Assertion type constants.
const (
	AssertStock         = "stock"
	AssertRecipeCost    = "recipe_cost"
	AssertMarker        = "marker"
	AssertMovementCount = "movement_count"
	AssertLowStock      = "low_stock"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if step.Op == "" {
			return fmt.Errorf("setup[%d]: op is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("setup[%d]: args is required (use empty map if no args)", i)
		}
	}

	for i, step := range s.Flow {
		if step.Op == "" {
			return fmt.Errorf("flow[%d]: op is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use empty map if no args)", i)
		}
		if step.Expect != nil && step.Expect.Outcome == "" {
			return fmt.Errorf("flow[%d].expect: outcome is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStock:
		if a.Ingredient == "" || a.Quantity == "" {
			return fmt.Errorf("assertions[%d]: ingredient and quantity are required for stock", index)
		}
	case AssertRecipeCost:
		if a.Recipe == "" || a.Total == "" {
			return fmt.Errorf("assertions[%d]: recipe and total are required for recipe_cost", index)
		}
	case AssertMarker:
		if a.Order == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: order and state are required for marker", index)
		}
	case AssertMovementCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for movement_count", index)
		}
	case AssertLowStock:
		// An empty ingredients list asserts that nothing is low.
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
