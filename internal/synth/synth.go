// Package synth writes small synthetic exclusion and generation stores for
// demos and tests.
package synth

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/scagg/internal/exclusion"
	"github.com/agentic-research/scagg/internal/generation"
)

// Options shapes a synthetic dataset.
type Options struct {
	Rows      int
	Cols      int
	OriginLat float64
	OriginLon float64
	PixelSize float64 // degrees, both axes

	// SiteStride is the spacing in pixels between generation sites.
	// One site sits at the centre of every SiteStride x SiteStride block.
	SiteStride int

	// ExcludedFraction of pixels is excluded at random.
	ExcludedFraction float64
	Seed             int64

	// Include overrides ExcludedFraction when set.
	Include func(row, col int) bool
}

// Dataset holds the paths of a written dataset.
type Dataset struct {
	Exclusion  string
	Generation string
	Sites      int
}

// Defaults fills unset options.
func (o *Options) Defaults() {
	if o.Rows == 0 {
		o.Rows = 640
	}
	if o.Cols == 0 {
		o.Cols = 640
	}
	if o.OriginLat == 0 && o.OriginLon == 0 {
		o.OriginLat, o.OriginLon = 40.0, -105.0
	}
	if o.PixelSize == 0 {
		o.PixelSize = 0.0009
	}
	if o.SiteStride == 0 {
		o.SiteStride = 32
	}
}

// Write creates excl.db and gen.db in dir.
func Write(dir string, opts Options) (Dataset, error) {
	opts.Defaults()
	if opts.ExcludedFraction < 0 || opts.ExcludedFraction > 1 {
		return Dataset{}, fmt.Errorf("excluded fraction %v outside [0, 1]", opts.ExcludedFraction)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Dataset{}, err
	}
	ds := Dataset{
		Exclusion:  filepath.Join(dir, "excl.db"),
		Generation: filepath.Join(dir, "gen.db"),
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	meta := exclusion.Meta{
		Shape:       exclusion.Shape{Rows: opts.Rows, Cols: opts.Cols},
		OriginLat:   opts.OriginLat,
		OriginLon:   opts.OriginLon,
		PixelHeight: opts.PixelSize,
		PixelWidth:  opts.PixelSize,
	}
	ew, err := exclusion.Create(ds.Exclusion, meta)
	if err != nil {
		return Dataset{}, err
	}
	for r := 0; r < opts.Rows; r++ {
		mask := roaring.New()
		for c := 0; c < opts.Cols; c++ {
			include := rng.Float64() >= opts.ExcludedFraction
			if opts.Include != nil {
				include = opts.Include(r, c)
			}
			if include {
				mask.Add(uint32(c))
			}
		}
		if mask.IsEmpty() {
			continue
		}
		if err := ew.SetRow(r, mask); err != nil {
			_ = ew.Close()
			return Dataset{}, err
		}
	}
	if err := ew.Close(); err != nil {
		return Dataset{}, err
	}

	gw, err := generation.Create(ds.Generation)
	if err != nil {
		return Dataset{}, err
	}
	half := opts.SiteStride / 2
	gid := 0
	for r := half; r < opts.Rows; r += opts.SiteStride {
		for c := half; c < opts.Cols; c += opts.SiteStride {
			lat, lon := meta.Coordinates(r, c)
			cf := 0.15 + 0.25*rng.Float64()
			rec := map[string]any{
				"cf_mean":       cf,
				"annual_energy": cf * 8760,
			}
			if err := gw.Add(generation.Site{
				GenGID:    gid,
				ResGID:    1000 + gid,
				Latitude:  lat,
				Longitude: lon,
			}, rec); err != nil {
				_ = gw.Close()
				return Dataset{}, err
			}
			gid++
		}
	}
	if err := gw.Close(); err != nil {
		return Dataset{}, err
	}
	ds.Sites = gid
	return ds, nil
}
