package summary

import (
	"fmt"
	"math"
	"sort"
)

// Attribute names computed by the summarizer.
const (
	AttrResourceGIDs = "resource_gids"
	AttrGenGIDs      = "gen_gids"
	AttrLatitude     = "latitude"
	AttrLongitude    = "longitude"
	AttrNPixels      = "n_pixels"
	AttrAreaSqKm     = "area_sq_km"
)

// Attribute names injected by the aggregation engine.
const (
	AttrSCGID    = "sc_gid"
	AttrSCRowInd = "sc_row_ind"
	AttrSCColInd = "sc_col_ind"
)

// DefaultAttributes are computed when no attributes are requested.
var DefaultAttributes = []string{AttrResourceGIDs, AttrGenGIDs, AttrLatitude, AttrLongitude}

// Builtins lists the summarizer's own attributes in canonical column order.
var Builtins = []string{AttrResourceGIDs, AttrGenGIDs, AttrLatitude, AttrLongitude, AttrNPixels, AttrAreaSqKm}

// Kind is the value type of an attribute.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindGIDSet
)

var kinds = map[string]Kind{
	AttrResourceGIDs: KindGIDSet,
	AttrGenGIDs:      KindGIDSet,
	AttrNPixels:      KindInt,
	AttrSCGID:        KindInt,
	AttrSCRowInd:     KindInt,
	AttrSCColInd:     KindInt,
}

// KindOf reports the value type of an attribute. Selector attributes and
// anything unknown are floats.
func KindOf(name string) Kind {
	if k, ok := kinds[name]; ok {
		return k
	}
	return KindFloat
}

// IsBuiltin reports whether name is computed by the summarizer itself or
// injected by the engine.
func IsBuiltin(name string) bool {
	for _, b := range Builtins {
		if b == name {
			return true
		}
	}
	return name == AttrSCGID || name == AttrSCRowInd || name == AttrSCColInd
}

// PointSummary holds the attributes of one supply-curve point.
// Values are []int for gid sets, int for counts and indices, float64 otherwise.
type PointSummary map[string]any

// Mapping is the aggregate result keyed by sc_gid.
type Mapping map[int]PointSummary

// GIDs returns the keys of m in ascending order.
func (m Mapping) GIDs() []int {
	out := make([]int, 0, len(m))
	for gid := range m {
		out = append(out, gid)
	}
	sort.Ints(out)
	return out
}

// Normalize restores typed values in a summary decoded from JSON, where
// numbers arrive as float64 and sets as []any.
func Normalize(ps PointSummary) error {
	for name, v := range ps {
		switch KindOf(name) {
		case KindGIDSet:
			set, err := toIntSlice(v)
			if err != nil {
				return fmt.Errorf("attribute %s: %w", name, err)
			}
			ps[name] = set
		case KindInt:
			n, err := toInt(v)
			if err != nil {
				return fmt.Errorf("attribute %s: %w", name, err)
			}
			ps[name] = n
		case KindFloat:
			f, ok := toFloat(v)
			if !ok {
				return fmt.Errorf("attribute %s: expected number, got %T", name, v)
			}
			ps[name] = f
		}
	}
	return nil
}

func toIntSlice(v any) ([]int, error) {
	switch s := v.(type) {
	case []int:
		return s, nil
	case []any:
		out := make([]int, len(s))
		for i, e := range s {
			n, err := toInt(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case nil:
		return []int{}, nil
	default:
		return nil, fmt.Errorf("expected gid list, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
