// Package config reads and writes the YAML run file consumed by
// `buildexpr run --config`.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"buildexpr/materializer-go/pkg/logging"
)

// Strategy names accepted in a run file, in execution order.
var Strategies = []string{"expressions", "reflection", "interpreter", "contract"}

// RunFile is a parsed run configuration.
type RunFile struct {
	Path         string
	Inputs       []float64
	Strategies   []string
	Cache        bool
	MaxCallDepth int
	Log          logging.Config
	Reflection   *Source
	Contract     *Source
}

// Source replaces the built-in source of the reflection or contract strategy.
// Symbol names the function (reflection) or type (contract) to resolve.
type Source struct {
	Name       string
	File       string
	Text       string
	Symbol     string
	References []string
}

// Default returns the run file used when none is given.
func Default() *RunFile {
	return &RunFile{
		Inputs:     []float64{2.3},
		Strategies: slices.Clone(Strategies),
		Log:        logging.NewConfig(),
	}
}

// Load parses a run file from disk. Unknown fields are rejected.
func Load(path string) (*RunFile, error) {
	if path == "" {
		return nil, fmt.Errorf("config: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var raw runFileDisk
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", abs, err)
	}
	run, err := raw.toRunFile(filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", abs, err)
	}
	run.Path = abs
	return run, nil
}

// Write serialises run to path.
func Write(run *RunFile, path string) error {
	if run == nil {
		return fmt.Errorf("config: nil run file")
	}
	if path == "" {
		return fmt.Errorf("config: missing path")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(run.toDisk()); err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encoder close: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks strategy names and source entries.
func (r *RunFile) Validate() error {
	if len(r.Inputs) == 0 {
		return fmt.Errorf("inputs: at least one value is required")
	}
	seen := make(map[string]bool, len(r.Strategies))
	for _, name := range r.Strategies {
		if !slices.Contains(Strategies, name) {
			return fmt.Errorf("strategies: unknown strategy %q (want one of %s)", name, strings.Join(Strategies, ", "))
		}
		if seen[name] {
			return fmt.Errorf("strategies: %q listed twice", name)
		}
		seen[name] = true
	}
	if r.MaxCallDepth < 0 {
		return fmt.Errorf("max_call_depth: must not be negative")
	}
	for label, src := range map[string]*Source{"reflection": r.Reflection, "contract": r.Contract} {
		if src == nil {
			continue
		}
		if (src.File == "") == (src.Text == "") {
			return fmt.Errorf("sources.%s: exactly one of file and text is required", label)
		}
		if src.Symbol == "" {
			return fmt.Errorf("sources.%s: symbol is required", label)
		}
	}
	return nil
}

// Read returns the Go source text for s, reading File when set.
func (s *Source) Read() (string, error) {
	if s.File == "" {
		return s.Text, nil
	}
	data, err := os.ReadFile(s.File)
	if err != nil {
		return "", fmt.Errorf("config: read source: %w", err)
	}
	return string(data), nil
}

type runFileDisk struct {
	Inputs       []float64    `yaml:"inputs"`
	Strategies   []string     `yaml:"strategies,omitempty"`
	Cache        bool         `yaml:"cache"`
	MaxCallDepth int          `yaml:"max_call_depth,omitempty"`
	Log          *logDisk     `yaml:"log,omitempty"`
	Sources      *sourcesDisk `yaml:"sources,omitempty"`
}

type logDisk struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type sourcesDisk struct {
	Reflection *sourceDisk `yaml:"reflection,omitempty"`
	Contract   *sourceDisk `yaml:"contract,omitempty"`
}

type sourceDisk struct {
	Name       string   `yaml:"name"`
	File       string   `yaml:"file,omitempty"`
	Text       string   `yaml:"text,omitempty"`
	Symbol     string   `yaml:"symbol"`
	References []string `yaml:"references,omitempty"`
}

func (d runFileDisk) toRunFile(dir string) (*RunFile, error) {
	run := Default()
	if len(d.Inputs) > 0 {
		run.Inputs = d.Inputs
	}
	if len(d.Strategies) > 0 {
		run.Strategies = make([]string, 0, len(d.Strategies))
		for _, name := range d.Strategies {
			run.Strategies = append(run.Strategies, strings.ToLower(strings.TrimSpace(name)))
		}
	}
	run.Cache = d.Cache
	run.MaxCallDepth = d.MaxCallDepth
	if d.Log != nil {
		if d.Log.Level != "" {
			level, err := logging.ParseLevel(d.Log.Level)
			if err != nil {
				return nil, fmt.Errorf("log: %w", err)
			}
			run.Log.Level = level
		}
		if d.Log.Format != "" {
			run.Log.Format = d.Log.Format
		}
	}
	if d.Sources != nil {
		run.Reflection = d.Sources.Reflection.toSource(dir)
		run.Contract = d.Sources.Contract.toSource(dir)
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	return run, nil
}

func (d *sourceDisk) toSource(dir string) *Source {
	if d == nil {
		return nil
	}
	src := &Source{
		Name:       strings.TrimSpace(d.Name),
		File:       strings.TrimSpace(d.File),
		Text:       d.Text,
		Symbol:     strings.TrimSpace(d.Symbol),
		References: d.References,
	}
	// Relative files are resolved against the run file's directory.
	if src.File != "" && !filepath.IsAbs(src.File) {
		src.File = filepath.Join(dir, src.File)
	}
	return src
}

func (r *RunFile) toDisk() runFileDisk {
	disk := runFileDisk{
		Inputs:       r.Inputs,
		Strategies:   r.Strategies,
		Cache:        r.Cache,
		MaxCallDepth: r.MaxCallDepth,
		Log:          &logDisk{Level: r.Log.Level.String(), Format: r.Log.Format},
	}
	if r.Reflection != nil || r.Contract != nil {
		disk.Sources = &sourcesDisk{
			Reflection: r.Reflection.toDisk(),
			Contract:   r.Contract.toDisk(),
		}
	}
	return disk
}

func (s *Source) toDisk() *sourceDisk {
	if s == nil {
		return nil
	}
	return &sourceDisk{Name: s.Name, File: s.File, Text: s.Text, Symbol: s.Symbol, References: s.References}
}
