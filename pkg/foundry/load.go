package foundry

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize is the largest process stack file Load accepts (1MB).
const MaxFileSize = 1024 * 1024

// Format is a process stack file format.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatFor picks a format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", fmt.Errorf("foundry: unsupported file extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
}

//go:embed fabless.yaml
var fablessYAML []byte

var loadDefault = sync.OnceValues(func() (*Foundry, error) {
	return Parse(fablessYAML, YAML)
})

// Default returns the built-in "fabless" silicon photonics stack. Each call
// returns a fresh copy.
func Default() *Foundry {
	f, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("foundry: embedded default is invalid: %v", err))
	}
	return f.Clone()
}

// Clone returns a deep copy of f.
func (f *Foundry) Clone() *Foundry {
	out := &Foundry{
		Name:      f.Name,
		Materials: append([]Material(nil), f.Materials...),
		Steps:     make([]ProcessStep, len(f.Steps)),
	}
	for i, s := range f.Steps {
		if s.ZExtra != nil {
			z := *s.ZExtra
			s.ZExtra = &z
		}
		out.Steps[i] = s
	}
	return out
}

// Load reads and validates a process stack from a YAML or TOML file.
func Load(path string) (*Foundry, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("foundry: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("foundry: %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("foundry: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a process stack.
func Parse(data []byte, format Format) (*Foundry, error) {
	var f Foundry
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("foundry: parse yaml: %w", err)
		}
	case TOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("foundry: parse toml: %w", err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, fmt.Errorf("foundry: parse toml: unknown key %q", undec[0].String())
		}
	default:
		return nil, fmt.Errorf("foundry: unknown format %q", format)
	}
	for i := range f.Steps {
		f.Steps[i].Op = Op(strings.ToUpper(string(f.Steps[i].Op)))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Marshal encodes f in the given format.
func (f *Foundry) Marshal(format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case YAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return nil, fmt.Errorf("foundry: encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("foundry: encode yaml: %w", err)
		}
	case TOML:
		if err := toml.NewEncoder(&buf).Encode(f); err != nil {
			return nil, fmt.Errorf("foundry: encode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("foundry: unknown format %q", format)
	}
	return buf.Bytes(), nil
}

// ----------------------------------------------------------------------------
// Validation
// ----------------------------------------------------------------------------

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-step rules: layer names
// are unique, material names are unique and known, and every step except
// DUMMY has a positive thickness and a material.
func (f *Foundry) Validate() error {
	var errs []error
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("foundry: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q constraint (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	materials := make(map[string]bool)
	for _, m := range f.Materials {
		if materials[m.Name] {
			errs = append(errs, fmt.Errorf("material %q defined twice", m.Name))
		}
		materials[m.Name] = true
	}

	layers := make(map[string]bool)
	for i, s := range f.Steps {
		if s.Layer != "" && layers[s.Layer] {
			errs = append(errs, fmt.Errorf("step %d: layer %q already has a step", i, s.Layer))
		}
		layers[s.Layer] = true
		if s.Op == Dummy {
			continue
		}
		if s.Thickness <= 0 {
			errs = append(errs, fmt.Errorf("step %d (%s): %s needs a positive thickness", i, s.Layer, s.Op))
		}
		if s.Material == "" {
			errs = append(errs, fmt.Errorf("step %d (%s): %s needs a material", i, s.Layer, s.Op))
		} else if !materials[s.Material] {
			errs = append(errs, fmt.Errorf("step %d (%s): unknown material %q", i, s.Layer, s.Material))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("foundry %q: invalid process stack: %w", f.Name, errors.Join(errs...))
	}
	return nil
}
