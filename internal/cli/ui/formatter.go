package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatPretty represents human-readable output format
	FormatPretty OutputFormat = "pretty"
	// FormatJSON represents JSON output format
	FormatJSON OutputFormat = "json"
)

// ParseFormat converts a string to OutputFormat
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "pretty", "":
		return FormatPretty, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Formatter is the interface for output formatting
type Formatter interface {
	// Output formats and displays any data
	Output(data interface{}) error

	// OutputError formats and displays an error
	OutputError(err error) error

	// IsJSON returns true if this formatter outputs JSON
	IsJSON() bool
}

// prettyFormatter implements Formatter for human-readable output
type prettyFormatter struct {
	out    io.Writer
	errOut io.Writer
}

// NewPrettyFormatter creates a pretty formatter writing to stdout and stderr.
func NewPrettyFormatter() Formatter {
	return NewPrettyFormatterTo(os.Stdout, os.Stderr)
}

// NewPrettyFormatterTo creates a pretty formatter writing to out, errors to errOut.
func NewPrettyFormatterTo(out, errOut io.Writer) Formatter {
	return &prettyFormatter{out: out, errOut: errOut}
}

func (f *prettyFormatter) Output(data interface{}) error {
	// Pretty data arrives already rendered
	if str, ok := data.(string); ok {
		_, err := fmt.Fprint(f.out, str)
		return err
	}
	_, err := fmt.Fprintln(f.out, data)
	return err
}

func (f *prettyFormatter) OutputError(err error) error {
	_, werr := fmt.Fprintf(f.errOut, "%s %s\n", ErrorIcon, ErrorStyle.Render(err.Error()))
	return werr
}

func (f *prettyFormatter) IsJSON() bool {
	return false
}

// jsonFormatter implements Formatter for JSON output
type jsonFormatter struct {
	encoder *json.Encoder
	errOut  io.Writer
}

// NewJSONFormatter creates a JSON formatter writing to stdout.
func NewJSONFormatter() Formatter {
	return NewJSONFormatterTo(os.Stdout, os.Stderr)
}

// NewJSONFormatterTo creates a JSON formatter writing to out, errors to errOut.
func NewJSONFormatterTo(out, errOut io.Writer) Formatter {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return &jsonFormatter{encoder: encoder, errOut: errOut}
}

func (f *jsonFormatter) Output(data interface{}) error {
	return f.encoder.Encode(data)
}

func (f *jsonFormatter) OutputError(err error) error {
	// Errors stay plain text on stderr so scripts can still parse stdout
	_, werr := fmt.Fprintf(f.errOut, "Error: %v\n", err)
	return werr
}

func (f *jsonFormatter) IsJSON() bool {
	return true
}

// NewFormatterTo creates a formatter of the given format over explicit writers.
func NewFormatterTo(format OutputFormat, out, errOut io.Writer) (Formatter, error) {
	switch format {
	case FormatPretty:
		return NewPrettyFormatterTo(out, errOut), nil
	case FormatJSON:
		return NewJSONFormatterTo(out, errOut), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// GlobalFormatter is the global formatter instance
var GlobalFormatter Formatter = NewPrettyFormatter()

// SetGlobalFormatter sets the global formatter
func SetGlobalFormatter(format OutputFormat) error {
	switch format {
	case FormatPretty:
		GlobalFormatter = NewPrettyFormatter()
	case FormatJSON:
		GlobalFormatter = NewJSONFormatter()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}

// WithFormatter temporarily sets a formatter for a function execution
func WithFormatter(format OutputFormat, fn func() error) error {
	oldFormatter := GlobalFormatter
	defer func() { GlobalFormatter = oldFormatter }()

	if err := SetGlobalFormatter(format); err != nil {
		return err
	}

	return fn()
}
