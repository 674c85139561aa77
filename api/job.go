package api

// Job describes one supply-curve aggregation run.
// It binds the three input stores to the grid resolution and dispatch policy.
type Job struct {
	// Name of the run. Used as the output file stem.
	Name string `json:"name" yaml:"name" mapstructure:"name" hcl:"name,optional"`
	// ExclusionPath is the exclusion raster store.
	ExclusionPath string `json:"exclusion_path" yaml:"exclusion_path" mapstructure:"exclusion_path" hcl:"exclusion_path"`
	// GenerationPath is the generation results store.
	GenerationPath string `json:"generation_path" yaml:"generation_path" mapstructure:"generation_path" hcl:"generation_path"`
	// TechMapPath is the tech-map artifact. Built on first use when missing.
	TechMapPath string `json:"techmap_path" yaml:"techmap_path" mapstructure:"techmap_path" hcl:"techmap_path"`
	// Resolution is the grid-cell side length in exclusion pixels.
	Resolution int `json:"resolution,omitempty" yaml:"resolution" mapstructure:"resolution" hcl:"resolution,optional"`
	// Workers is the pool size. 0 uses every logical core, 1 runs serially.
	Workers int `json:"workers,omitempty" yaml:"workers" mapstructure:"workers" hcl:"workers,optional"`
	// GIDs restricts the run to a subset of cells. Empty means the full extent.
	GIDs []int `json:"gids,omitempty" yaml:"gids" mapstructure:"gids" hcl:"gids,optional"`
	// Format is "table" or "mapping".
	Format string `json:"format,omitempty" yaml:"format" mapstructure:"format" hcl:"format,optional"`
	// Attributes requested from the point summarizer. Empty means the defaults.
	Attributes []string `json:"attributes,omitempty" yaml:"attributes" mapstructure:"attributes" hcl:"attributes,optional"`
	// Selectors add attributes computed from generation site records.
	// Keys are attribute names, values are JSONPath expressions (e.g. "$.cf_mean").
	Selectors map[string]string `json:"selectors,omitempty" yaml:"selectors" mapstructure:"selectors" hcl:"selectors,optional"`
	// Isolation is "goroutine" or "process".
	Isolation string `json:"isolation,omitempty" yaml:"isolation" mapstructure:"isolation" hcl:"isolation,optional"`
	// OutDir receives the output table.
	OutDir string `json:"out_dir,omitempty" yaml:"out_dir" mapstructure:"out_dir" hcl:"out_dir,optional"`
	// MetricsFile, when set, receives a prometheus textfile after the run.
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file" mapstructure:"metrics_file" hcl:"metrics_file,optional"`

	TechMap *TechMapOptions `json:"techmap,omitempty" yaml:"techmap" mapstructure:"techmap" hcl:"techmap,block"`
	Log     *LogOptions     `json:"log,omitempty" yaml:"log" mapstructure:"log" hcl:"log,block"`
}

// TechMapOptions tunes the reference tech-map builder.
type TechMapOptions struct {
	// MaxDistanceKm bounds the pixel-to-site search. 0 means unbounded.
	MaxDistanceKm float64 `json:"max_distance_km,omitempty" yaml:"max_distance_km" mapstructure:"max_distance_km" hcl:"max_distance_km,optional"`
}

// LogOptions selects the logger level and encoding.
type LogOptions struct {
	Level  string `json:"level,omitempty" yaml:"level" mapstructure:"level" hcl:"level,optional"`
	Format string `json:"format,omitempty" yaml:"format" mapstructure:"format" hcl:"format,optional"`
}
