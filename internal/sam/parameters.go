// Package sam orchestrates site simulations against an external simulation
// engine. The engine itself is not part of this package: it is reached
// through the Engine interface. What lives here is parameter management,
// the generation then economics pipeline, and failure reporting.
package sam

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"
)

// Kind tags how a Parameters value was constructed.
type Kind int

const (
	// KindRaw parameters are passed to the engine as given.
	KindRaw Kind = iota
	// KindManaged parameters were verified against a module's requirements
	// with missing values filled from its defaults.
	KindManaged
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindManaged:
		return "managed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ValueType names an accepted type for a required parameter.
type ValueType string

const (
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "str"
	TypeArray  ValueType = "list"
)

// Requirement is one required input of a module and the types it accepts.
// On disk it is encoded as ["name", ["type", ...]].
type Requirement struct {
	Name  string
	Types []ValueType
}

func (r *Requirement) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("requirement must be [name, [types]], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.Name); err != nil {
		return fmt.Errorf("requirement name: %w", err)
	}
	var types []string
	if err := json.Unmarshal(raw[1], &types); err != nil {
		return fmt.Errorf("requirement %q types: %w", r.Name, err)
	}
	r.Types = r.Types[:0]
	for _, t := range types {
		switch t {
		case "int", "float", "str", "list":
			r.Types = append(r.Types, ValueType(t))
		case "np.ndarray":
			r.Types = append(r.Types, TypeArray)
		default:
			return fmt.Errorf("requirement %q: unknown type %q", r.Name, t)
		}
	}
	return nil
}

func (r Requirement) accepts(v any) bool {
	for _, t := range r.Types {
		if matches(t, v) {
			return true
		}
	}
	return false
}

func matches(t ValueType, v any) bool {
	switch t {
	case TypeInt:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeArray:
		switch v.(type) {
		case []any, []float64, []int, []string:
			return true
		}
	}
	return false
}

// ModuleSpec holds the requirements and defaults of one engine module.
type ModuleSpec struct {
	Requirements []Requirement
	Defaults     map[string]any
}

// Catalog maps module names to their specs.
type Catalog map[string]ModuleSpec

// LoadCatalog reads <dir>/requirements/<module>.json and
// <dir>/defaults/<module>.json for each named module.
func LoadCatalog(fs billy.Basic, dir string, modules ...string) (Catalog, error) {
	cat := make(Catalog, len(modules))
	for _, m := range modules {
		var spec ModuleSpec
		if err := readJSON(fs, path.Join(dir, "requirements", m+".json"), &spec.Requirements); err != nil {
			return nil, fmt.Errorf("load requirements for %q: %w", m, err)
		}
		if err := readJSON(fs, path.Join(dir, "defaults", m+".json"), &spec.Defaults); err != nil {
			return nil, fmt.Errorf("load defaults for %q: %w", m, err)
		}
		cat[m] = spec
	}
	return cat, nil
}

func readJSON(fs billy.Basic, name string, v any) error {
	f, err := fs.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // safe to ignore
	b, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Parameters are the inputs of one simulation. Construct them with
// RawParameters or ManagedParameters; the Kind records which.
type Parameters struct {
	kind         Kind
	module       string
	values       map[string]any
	requirements []Requirement
	defaults     map[string]any
}

// RawParameters wraps values without verification.
func RawParameters(values map[string]any) *Parameters {
	return &Parameters{kind: KindRaw, values: copyValues(values)}
}

// ManagedParameters verifies values against spec. Missing or mistyped
// inputs are logged as warnings. If any required input is missing, every
// missing input is set from the module defaults; a missing input with no
// default is an error.
func ManagedParameters(log *zap.Logger, module string, values map[string]any, spec ModuleSpec) (*Parameters, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Parameters{
		kind:         KindManaged,
		module:       module,
		values:       copyValues(values),
		requirements: append([]Requirement(nil), spec.Requirements...),
		defaults:     spec.Defaults,
	}
	if err := p.verify(log); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parameters) verify(log *zap.Logger) error {
	missing := false
	for _, req := range p.requirements {
		v, ok := p.values[req.Name]
		if !ok {
			log.Warn("required input parameter missing",
				zap.String("module", p.module), zap.String("parameter", req.Name))
			missing = true
			continue
		}
		if !req.accepts(v) {
			log.Warn("input parameter has the wrong type",
				zap.String("module", p.module),
				zap.String("parameter", req.Name),
				zap.Any("accepted", req.Types),
				zap.String("got", fmt.Sprintf("%T", v)))
		}
	}
	if !missing {
		return nil
	}
	for _, req := range p.requirements {
		if _, ok := p.values[req.Name]; ok {
			continue
		}
		d, ok := p.defaults[req.Name]
		if !ok {
			return fmt.Errorf("sam: module %q has no default for required parameter %q", p.module, req.Name)
		}
		p.values[req.Name] = d
		log.Warn("setting default value", zap.String("module", p.module), zap.String("parameter", req.Name))
	}
	return nil
}

// RequireResourceFile adds the resource file input for a solar or wind
// resource and verifies again. It applies only to managed parameters.
func (p *Parameters) RequireResourceFile(log *zap.Logger, resource string) error {
	if p.kind != KindManaged {
		return fmt.Errorf("sam: resource file requirement needs managed parameters, got %s", p.kind)
	}
	if log == nil {
		log = zap.NewNop()
	}
	switch resource {
	case "solar":
		p.requirements = append(p.requirements, Requirement{Name: "solar_resource_file", Types: []ValueType{TypeString}})
	case "wind":
		p.requirements = append(p.requirements, Requirement{Name: "wind_resource_filename", Types: []ValueType{TypeString}})
	default:
		return fmt.Errorf("sam: unknown resource type %q", resource)
	}
	return p.verify(log)
}

// Manage returns p itself when it is already managed, and otherwise manages
// it against the named module of cat.
func (p *Parameters) Manage(log *zap.Logger, module string, cat Catalog) (*Parameters, error) {
	switch p.kind {
	case KindManaged:
		return p, nil
	case KindRaw:
		spec, ok := cat[module]
		if !ok {
			return nil, fmt.Errorf("sam: module %q not in catalog", module)
		}
		return ManagedParameters(log, module, p.values, spec)
	default:
		return nil, fmt.Errorf("sam: unknown parameter kind %s", p.kind)
	}
}

func (p *Parameters) Kind() Kind { return p.kind }

// Module is the module managed parameters were verified against. It is
// empty for raw parameters.
func (p *Parameters) Module() string { return p.module }

func (p *Parameters) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

func (p *Parameters) Set(name string, v any) { p.values[name] = v }

// Keys returns the parameter names, sorted.
func (p *Parameters) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of the parameter values.
func (p *Parameters) Values() map[string]any { return copyValues(p.values) }

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
