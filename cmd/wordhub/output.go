package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type OutputFormat string

func (f *OutputFormat) Set(val string) error {
	for _, format := range allOutputFormats {
		if val == string(format) {
			*f = format
			return nil
		}
	}
	return fmt.Errorf("invalid output format: %s", val)
}

func (f OutputFormat) String() string {
	return string(f)
}

func (f *OutputFormat) Type() string {
	return "OutputFormat"
}

const (
	OutputYAML OutputFormat = "yaml"
	OutputJSON OutputFormat = "json"
)

var (
	_                pflag.Value = (*OutputFormat)(nil)
	allOutputFormats             = []OutputFormat{OutputYAML, OutputJSON}

	outputFormat = OutputYAML
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	failureColor = color.New(color.FgRed)
	boldColor    = color.New(color.Bold)
)

// writeOutput prints data in the format chosen with --output.
func writeOutput(w io.Writer, data interface{}) error {
	if outputFormat == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("json.Encode > %w", err)
		}
		return nil
	}
	return writeYAML(w, data)
}

func writeYAML(w io.Writer, data interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("yaml.Encode > %w", err)
	}
	return enc.Close()
}

// countColor picks the color of a summary count: plain when zero, c otherwise.
func countColor(n int, c *color.Color) *color.Color {
	if n == 0 {
		return color.New(color.Reset)
	}
	return c
}
