// Command validate checks relay configuration files and sample peer frames
// before they are deployed or replayed. For every file in the given
// directory (default "configs") it checks:
//   - *.yaml / *.yml: decodes as a relay configuration with no unknown keys
//     and passes range validation
//   - *.json: is a LocationUpdate the relay would accept and broadcast
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wricardo/mcp-training/locationsync/config"
	"github.com/wricardo/mcp-training/locationsync/relay/message"
)

type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

// validateConfig checks one YAML relay configuration.
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	cfg, err := config.LoadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.Errors = append(result.Errors, fmt.Sprintf("✓ Listen: %s", cfg.Addr()))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Heartbeat: %s (silent peers dropped after ~%s)", cfg.HeartbeatInterval, 2*cfg.HeartbeatInterval))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Max message: %d bytes, send buffer: %d frames", cfg.MaxMessageSize, cfg.SendBuffer))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Logging: %s/%s", cfg.LogLevel, cfg.LogFormat))
	return result
}

// validateFrame checks one sample LocationUpdate frame.
func validateFrame(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read file: %v", err))
		return result
	}

	update, err := message.Validate(data)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Rejected: %v", err))
		return result
	}

	ids := make(map[string]bool, len(update.Transforms))
	for _, tr := range update.Transforms {
		if ids[tr.ID] {
			result.Errors = append(result.Errors, fmt.Sprintf("Warning: duplicate transform id %q", tr.ID))
		}
		ids[tr.ID] = true
	}

	result.Errors = append(result.Errors, fmt.Sprintf("✓ Sender: %s", update.ClientIP))
	result.Errors = append(result.Errors, fmt.Sprintf("✓ Transforms: %d", len(update.Transforms)))
	return result
}

// validateDir validates every config and frame file in dir, in name order.
func validateDir(dir string) ([]ValidationResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var results []ValidationResult
	for _, name := range names {
		path := filepath.Join(dir, name)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml":
			results = append(results, validateConfig(path))
		case ".json":
			results = append(results, validateFrame(path))
		}
	}
	return results, nil
}

// main validates the directory named by the first argument, printing a
// concise report and exiting with non-zero status if any file is invalid.
func main() {
	dir := "configs"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	results, err := validateDir(dir)
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", dir, err)
		os.Exit(1)
	}

	allValid := true
	for _, result := range results {
		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Printf("✅ All %d files are valid!\n", len(results))
	} else {
		fmt.Println("❌ Some files have errors")
		os.Exit(1)
	}
}
