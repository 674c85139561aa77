package sam

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Engine modules.
const (
	ModulePVWatts     = "pvwattsv5"
	ModuleMoltenSalt  = "tcsmolten_salt"
	ModuleWindPower   = "windpower"
	ModuleLCOE        = "lcoefcr"
	ModuleSingleOwner = "singleowner"
)

// Requestable outputs.
const (
	OutputCFMean       = "cf_mean"
	OutputCFProfile    = "cf_profile"
	OutputAnnualEnergy = "annual_energy"
	OutputEnergyYield  = "energy_yield"
	OutputGenProfile   = "gen_profile"
	OutputPPAPrice     = "ppa_price"
	OutputLCOEFCR      = "lcoe_fcr"
)

// Data is the key/value table an engine module reads its inputs from and
// writes its results to. Stages of one pipeline share it.
type Data map[string]any

// ExecResult reports one module execution. Diagnostics are the engine's
// log lines for the run.
type ExecResult struct {
	OK          bool
	Diagnostics []string
}

// Engine executes simulation modules. A non-nil error means the engine
// could not be driven at all; a failed simulation is reported through
// ExecResult.
type Engine interface {
	Exec(ctx context.Context, module string, data Data) (ExecResult, error)
}

// ExecutionError is a simulation failure carrying every diagnostic line the
// engine produced.
type ExecutionError struct {
	Module      string
	Site        int
	Diagnostics []string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("sam: module %q failed for site %d", e.Module, e.Site)
	if len(e.Diagnostics) > 0 {
		msg += ": " + strings.Join(e.Diagnostics, "; ")
	}
	return msg
}

// Technology binds a generation module to the economics modules that
// produce its economic outputs.
type Technology struct {
	Name     string
	Module   string
	Resource string
	// Economics maps an economic output to the module computing it.
	Economics map[string]string
}

var (
	PV = Technology{
		Name: "pv", Module: ModulePVWatts, Resource: "solar",
		Economics: map[string]string{OutputLCOEFCR: ModuleLCOE},
	}
	CSP = Technology{
		Name: "csp", Module: ModuleMoltenSalt, Resource: "solar",
		Economics: map[string]string{OutputPPAPrice: ModuleSingleOwner},
	}
	LandBasedWind = Technology{
		Name: "landbasedwind", Module: ModuleWindPower, Resource: "wind",
		Economics: map[string]string{OutputLCOEFCR: ModuleLCOE},
	}
	OffshoreWind = Technology{
		Name: "offshorewind", Module: ModuleWindPower, Resource: "wind",
		Economics: map[string]string{OutputLCOEFCR: ModuleLCOE},
	}
)

// EconomicsFor returns the economics modules the request needs, sorted.
// An empty result means the pipeline stops after generation.
func (t Technology) EconomicsFor(request []string) []string {
	seen := map[string]bool{}
	var mods []string
	for _, out := range request {
		if m, ok := t.Economics[out]; ok && !seen[m] {
			seen[m] = true
			mods = append(mods, m)
		}
	}
	sort.Strings(mods)
	return mods
}

// State is the progress of one site through a Pipeline.
type State int

const (
	StatePending State = iota
	StateGenerated
	StateEconomicsPending
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateGenerated:
		return "generated"
	case StateEconomicsPending:
		return "economics-pending"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SiteRun is the outcome of running one site. On failure State is the last
// state reached.
type SiteRun struct {
	Site    int
	State   State
	Outputs map[string]any
}

// Pipeline runs generation for a site, then economics when the output
// request names an economic output.
type Pipeline struct {
	Engine  Engine
	Tech    Technology
	Catalog Catalog
	Log     *zap.Logger
}

// Run simulates one site and collects the requested outputs.
func (p *Pipeline) Run(ctx context.Context, site int, params *Parameters, request []string) (*SiteRun, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Int("site", site), zap.String("tech", p.Tech.Name))
	run := &SiteRun{Site: site, State: StatePending}

	managed, err := params.Manage(log, p.Tech.Module, p.Catalog)
	if err != nil {
		return run, err
	}
	data := Data(managed.Values())
	if err := p.exec(ctx, p.Tech.Module, site, data); err != nil {
		return run, err
	}
	run.State = StateGenerated
	log.Debug("generation complete", zap.String("module", p.Tech.Module))

	if econ := p.Tech.EconomicsFor(request); len(econ) > 0 {
		run.State = StateEconomicsPending
		for _, m := range econ {
			// Managed generation parameters carry over unchanged.
			ep, err := managed.Manage(log, m, p.Catalog)
			if err != nil {
				return run, err
			}
			for _, k := range ep.Keys() {
				if _, ok := data[k]; !ok {
					v, _ := ep.Get(k)
					data[k] = v
				}
			}
			if err := p.exec(ctx, m, site, data); err != nil {
				return run, err
			}
			log.Debug("economics complete", zap.String("module", m))
		}
	}

	outputs, err := Collect(data, managed, request)
	if err != nil {
		return run, err
	}
	run.State = StateDone
	run.Outputs = outputs
	return run, nil
}

func (p *Pipeline) exec(ctx context.Context, module string, site int, data Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := p.Engine.Exec(ctx, module, data)
	if err != nil {
		return fmt.Errorf("sam: exec %q for site %d: %w", module, site, err)
	}
	if !res.OK {
		return &ExecutionError{Module: module, Site: site, Diagnostics: res.Diagnostics}
	}
	return nil
}

// Collect reads the requested outputs from data. Capacity factors are
// returned as fractions and lcoe_fcr in cents/kWh.
func Collect(data Data, params *Parameters, request []string) (map[string]any, error) {
	out := make(map[string]any, len(request))
	for _, name := range request {
		var (
			v   any
			err error
		)
		switch name {
		case OutputCFMean:
			var f float64
			f, err = number(data, "capacity_factor")
			v = f / 100
		case OutputCFProfile:
			var gen []float64
			if gen, err = array(data, "gen"); err != nil {
				break
			}
			var capacity float64
			if capacity, err = parameterNumber(params, "system_capacity"); err != nil {
				break
			}
			profile := make([]float64, len(gen))
			for i, g := range gen {
				profile[i] = g / capacity
			}
			v = profile
		case OutputAnnualEnergy:
			v, err = number(data, "annual_energy")
		case OutputEnergyYield:
			v, err = number(data, "kwh_per_kw")
		case OutputGenProfile:
			v, err = array(data, "gen")
		case OutputPPAPrice:
			v, err = number(data, "ppa")
		case OutputLCOEFCR:
			var f float64
			f, err = number(data, "lcoe_fcr")
			v = 100 * f
		default:
			err = fmt.Errorf("sam: unknown output %q", name)
		}
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func number(data Data, key string) (float64, error) {
	v, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("sam: engine produced no %q", key)
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("sam: %q is %T, not a number", key, v)
	}
	return f, nil
}

func array(data Data, key string) ([]float64, error) {
	v, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("sam: engine produced no %q", key)
	}
	switch a := v.(type) {
	case []float64:
		return append([]float64(nil), a...), nil
	case []any:
		out := make([]float64, len(a))
		for i, x := range a {
			f, ok := asFloat(x)
			if !ok {
				return nil, fmt.Errorf("sam: %q[%d] is %T, not a number", key, i, x)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("sam: %q is %T, not an array", key, v)
	}
}

func parameterNumber(params *Parameters, key string) (float64, error) {
	if params == nil {
		return 0, fmt.Errorf("sam: parameter %q not set", key)
	}
	v, ok := params.Get(key)
	if !ok {
		return 0, fmt.Errorf("sam: parameter %q not set", key)
	}
	f, ok := asFloat(v)
	if !ok || f == 0 {
		return 0, fmt.Errorf("sam: parameter %q must be a non-zero number", key)
	}
	return f, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
