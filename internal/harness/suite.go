package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrGoldenMismatch is returned when a run differs from its golden file.
var ErrGoldenMismatch = errors.New("snapshot does not match golden file")

// FileResult is the outcome of running one scenario file.
type FileResult struct {
	Path     string   `json:"path"`
	Name     string   `json:"name"`
	Pass     bool     `json:"pass"`
	Updated  bool     `json:"updated,omitempty"`
	NoGolden bool     `json:"no_golden,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// SuiteResult aggregates a directory of scenarios.
type SuiteResult struct {
	Scenarios []FileResult `json:"scenarios"`
	Passed    int          `json:"passed"`
	Failed    int          `json:"failed"`
	Total     int          `json:"total"`
}

// FindScenarios returns the .yaml and .yml files under dir, in lexical
// order. filter is a glob matched against the file name without extension.
// Files inside golden directories are skipped.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// GoldenPath returns the golden file of a scenario file: a sibling golden
// directory holding {name}.golden.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// RunFile loads and runs one scenario file. With update set the golden file
// is rewritten; otherwise an existing golden file must match. A scenario
// without a golden file is judged on its steps and assertions alone.
func RunFile(path string, update bool) FileResult {
	out := FileResult{Path: path, Name: filepath.Base(path)}

	scenario, err := LoadScenario(path)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return out
	}
	out.Name = scenario.Name

	result, err := Run(scenario)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Errors = result.Errors

	data, err := NewSnapshot(scenario, result).Marshal()
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("failed to marshal snapshot: %v", err))
		return out
	}

	golden := GoldenPath(path)
	switch {
	case update:
		if err := writeGolden(golden, data); err != nil {
			out.Errors = append(out.Errors, err.Error())
			return out
		}
		out.Updated = true
	default:
		want, err := os.ReadFile(golden)
		if errors.Is(err, fs.ErrNotExist) {
			out.NoGolden = true
			break
		}
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("failed to read golden file: %v", err))
			return out
		}
		if !bytes.Equal(want, data) {
			out.Errors = append(out.Errors, ErrGoldenMismatch.Error()+" (run with --update to regenerate)")
		}
	}

	out.Pass = len(out.Errors) == 0
	return out
}

// RunSuite runs every scenario found under dir.
func RunSuite(dir, filter string, update bool) (*SuiteResult, error) {
	files, err := FindScenarios(dir, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find scenarios: %w", err)
	}

	suite := &SuiteResult{Scenarios: make([]FileResult, 0, len(files)), Total: len(files)}
	for _, f := range files {
		res := RunFile(f, update)
		suite.Scenarios = append(suite.Scenarios, res)
		if res.Pass {
			suite.Passed++
		} else {
			suite.Failed++
		}
	}
	return suite, nil
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}
