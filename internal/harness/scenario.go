package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/paystream/internal/fees"
)

// DefaultStart is the unix second a scenario starts at unless it says
// otherwise.
const DefaultStart uint64 = 1_700_000_000

// Scenario defines one conformance run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the unix second that step offsets are relative to.
	Start uint64 `yaml:"start,omitempty"`

	// Token is the fixed correlation token stamped on every event.
	// Defaults to "test-token-default".
	Token string `yaml:"token,omitempty"`

	// Mint names the funding unit. Defaults to "mint".
	Mint string `yaml:"mint,omitempty"`

	// Fees overrides the default fee schedule.
	Fees *fees.Schedule `yaml:"fees,omitempty"`

	// Setup establishes initial state. Setup steps must succeed and are not
	// traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Steps is the traced flow.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation at a time offset.
type Step struct {
	// At is the offset in seconds from the scenario start.
	At uint64 `yaml:"at,omitempty"`

	// Op is the operation name, e.g. "withdraw".
	Op string `yaml:"op"`

	// Args holds the operation arguments. Accounts, treasuries and streams
	// are given by name.
	Args map[string]any `yaml:"args"`

	// Expect describes the expected outcome. Nil means success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected error code, e.g. "INSUFFICIENT_FUNDS". Empty
	// means the step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the event kind (event_count).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of events (event_count).
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected first-occurrence order (event_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Account is the account or treasury name (balance).
	Account string `yaml:"account,omitempty"`

	// Units and Fee are the expected balances (balance). Nil skips the check.
	Units *uint64 `yaml:"units,omitempty"`
	Fee   *uint64 `yaml:"fee,omitempty"`

	// Stream and Treasury name the record to inspect.
	Stream   string `yaml:"stream,omitempty"`
	Treasury string `yaml:"treasury,omitempty"`

	// At moves the clock before a stream view is taken, as an offset from
	// the scenario start. Nil keeps the time of the last step.
	At *uint64 `yaml:"at,omitempty"`

	// Closed asserts that the record no longer exists.
	Closed bool `yaml:"closed,omitempty"`

	// Expect holds expected field values. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
	AssertBalance    = "balance"
	AssertStream     = "stream"
	AssertTreasury   = "treasury"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Start == 0 {
		scenario.Start = DefaultStart
	}
	if scenario.Mint == "" {
		scenario.Mint = "mint"
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Fees != nil {
		if err := s.Fees.Validate(); err != nil {
			return fmt.Errorf("fees: %w", err)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot expect an error", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Op == "" {
		return fmt.Errorf("op is required")
	}
	if _, ok := operations[step.Op]; !ok {
		return fmt.Errorf("unknown op %q", step.Op)
	}
	if step.Args == nil {
		return fmt.Errorf("args is required (use empty map if no args)")
	}
	if step.Expect != nil && step.Expect.Error == "" {
		return fmt.Errorf("expect: error is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertBalance:
		if a.Account == "" {
			return fmt.Errorf("assertions[%d]: account is required for balance", index)
		}
		if a.Units == nil && a.Fee == nil {
			return fmt.Errorf("assertions[%d]: units or fee is required for balance", index)
		}
	case AssertStream:
		if a.Stream == "" {
			return fmt.Errorf("assertions[%d]: stream is required for stream", index)
		}
		if !a.Closed && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or closed is required for stream", index)
		}
	case AssertTreasury:
		if a.Treasury == "" {
			return fmt.Errorf("assertions[%d]: treasury is required for treasury", index)
		}
		if !a.Closed && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or closed is required for treasury", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
