package common

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CommonFlags contains flags shared by every command
type CommonFlags struct {
	EnvFile    *string
	ConfigFile *string
	LogLevel   *string
	Pretty     *bool
	Version    *bool
}

// RegisterCommonFlags registers common flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile:    fs.String("env", ".env", "Environment file path"),
		ConfigFile: fs.String("config", "", "YAML config file (defaults apply when empty)"),
		LogLevel:   fs.String("log-level", "", "Override logging.level (debug, info, warn, error)"),
		Pretty:     fs.Bool("pretty", false, "Human-readable console logs"),
		Version:    fs.Bool("version", false, "Show version information"),
	}
}

// FlagValidator collects flag validation errors
type FlagValidator struct {
	errors []string
}

// NewFlagValidator creates a new flag validator
func NewFlagValidator() *FlagValidator {
	return &FlagValidator{}
}

// ValidateInt validates an int flag value
func (v *FlagValidator) ValidateInt(name string, value, min, max int) *FlagValidator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d, got: %d", name, min, max, value))
	}
	return v
}

// ValidateDuration rejects negative durations; zero means "use the config value".
func (v *FlagValidator) ValidateDuration(name string, value time.Duration) *FlagValidator {
	if value < 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must not be negative, got: %s", name, value))
	}
	return v
}

// ValidateChoice validates that a string is one of the allowed choices
func (v *FlagValidator) ValidateChoice(name, value string, choices []string) *FlagValidator {
	for _, choice := range choices {
		if value == choice {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of [%s], got: %s", name, strings.Join(choices, ", "), value))
	return v
}

// ValidateFile validates that a file exists
func (v *FlagValidator) ValidateFile(name, path string, required bool) *FlagValidator {
	if path == "" {
		if required {
			v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
		}
		return v
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.errors = append(v.errors, fmt.Sprintf("%s file does not exist: %s", name, path))
	}
	return v
}

// AddError adds a custom validation error
func (v *FlagValidator) AddError(message string) *FlagValidator {
	v.errors = append(v.errors, message)
	return v
}

// HasErrors returns true if there are validation errors
func (v *FlagValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// GetError returns a formatted error message with all validation errors
func (v *FlagValidator) GetError() error {
	switch len(v.errors) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("validation error: %s", v.errors[0])
	default:
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(v.errors, "\n  - "))
	}
}

// UsageFormatter prints a usage block with examples
type UsageFormatter struct {
	AppName        string
	AppDescription string
	Examples       []UsageExample
}

// UsageExample represents a usage example
type UsageExample struct {
	Command     string
	Description string
}

// NewUsageFormatter creates a new usage formatter
func NewUsageFormatter(appName, description string) *UsageFormatter {
	return &UsageFormatter{AppName: appName, AppDescription: description}
}

// AddExample adds a usage example
func (u *UsageFormatter) AddExample(command, description string) *UsageFormatter {
	u.Examples = append(u.Examples, UsageExample{Command: command, Description: description})
	return u
}

// Install sets fs.Usage to print the formatted usage.
func (u *UsageFormatter) Install(fs *flag.FlagSet) {
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "%s - %s\n\n", u.AppName, u.AppDescription)
		fmt.Fprintf(out, "USAGE:\n  %s [OPTIONS]\n\n", filepath.Base(os.Args[0]))
		if len(u.Examples) > 0 {
			fmt.Fprintf(out, "EXAMPLES:\n")
			for _, example := range u.Examples {
				fmt.Fprintf(out, "  # %s\n  %s\n\n", example.Description, example.Command)
			}
		}
		fmt.Fprintf(out, "OPTIONS:\n")
		fs.PrintDefaults()
	}
}
