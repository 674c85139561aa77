// Package summary computes the attributes of a single supply-curve point from
// the exclusion raster, the tech-map, and the generation results.
package summary

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/internal/exclusion"
	"github.com/agentic-research/scagg/internal/extent"
	"github.com/agentic-research/scagg/internal/generation"
	"github.com/agentic-research/scagg/internal/techmap"
)

// ErrEmptyPoint is returned when a cell has no valid pixels.
var ErrEmptyPoint = errors.New("supply curve point has no valid pixels")

// Paths locates the three inputs of a summary.
type Paths struct {
	Exclusion  string `json:"exclusion"`
	Generation string `json:"generation"`
	TechMap    string `json:"techmap"`
}

// Handles are open, read-only views of the inputs. They belong to a single
// goroutine.
type Handles struct {
	Exclusion  *exclusion.Store
	Generation *generation.Store
	TechMap    *techmap.Store
}

// OpenHandles opens all three inputs. On failure nothing is left open.
func OpenHandles(p Paths) (*Handles, error) {
	h := &Handles{}
	var err error
	if h.Exclusion, err = exclusion.Open(p.Exclusion); err != nil {
		return nil, fmt.Errorf("open exclusion: %w", err)
	}
	if h.Generation, err = generation.Open(p.Generation); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("open generation: %w", err)
	}
	if h.TechMap, err = techmap.Open(p.TechMap); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("open techmap: %w", err)
	}
	if h.TechMap.Shape() != h.Exclusion.Shape() {
		es, ts := h.Exclusion.Shape(), h.TechMap.Shape()
		_ = h.Close()
		return nil, fmt.Errorf("techmap shape %dx%d does not match exclusion shape %dx%d",
			ts.Rows, ts.Cols, es.Rows, es.Cols)
	}
	return h, nil
}

// Close releases every open handle.
func (h *Handles) Close() error {
	var errs []error
	if h.Exclusion != nil {
		errs = append(errs, h.Exclusion.Close())
	}
	if h.Generation != nil {
		errs = append(errs, h.Generation.Close())
	}
	if h.TechMap != nil {
		errs = append(errs, h.TechMap.Close())
	}
	return errors.Join(errs...)
}

type selector struct {
	source string
	expr   jp.Expr
}

// Summarizer computes point summaries. It is safe for concurrent use as long
// as each goroutine passes its own Handles.
type Summarizer struct {
	log       *zap.Logger
	selectors map[string]selector
	warned    sync.Map
}

// NewSummarizer builds a summarizer. selectors maps extra attribute names to
// JSONPath expressions evaluated against each site's generation record.
func NewSummarizer(log *zap.Logger, selectors map[string]string) (*Summarizer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Summarizer{log: log, selectors: make(map[string]selector, len(selectors))}
	for name, src := range selectors {
		if IsBuiltin(name) {
			return nil, fmt.Errorf("selector %q shadows a built-in attribute", name)
		}
		x, err := jp.ParseString(src)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s' for %s: %w", src, name, err)
		}
		s.selectors[name] = selector{source: src, expr: x}
	}
	return s, nil
}

// Selectors returns the configured selector expressions.
func (s *Summarizer) Selectors() map[string]string {
	out := make(map[string]string, len(s.selectors))
	for name, sel := range s.selectors {
		out[name] = sel.source
	}
	return out
}

// pixels accumulates the valid pixels of one cell.
type pixels struct {
	n       int
	latSum  float64
	lonSum  float64
	resGIDs *roaring.Bitmap
	genGIDs *roaring.Bitmap
	perSite map[int]int
	areaKm2 float64
}

// Summarize computes attrs for gid. A nil attrs requests DefaultAttributes.
// It returns ErrEmptyPoint when no pixel of the cell is valid.
func (s *Summarizer) Summarize(gid int, h *Handles, ext *extent.Extent, attrs []string) (PointSummary, error) {
	win, err := ext.Window(gid)
	if err != nil {
		return nil, err
	}
	px, err := collect(h, win)
	if err != nil {
		return nil, fmt.Errorf("gid %d: %w", gid, err)
	}
	if px.n == 0 {
		return nil, fmt.Errorf("%w: gid %d", ErrEmptyPoint, gid)
	}

	if attrs == nil {
		attrs = DefaultAttributes
	}
	out := make(PointSummary, len(attrs))
	for _, name := range attrs {
		switch name {
		case AttrResourceGIDs:
			out[name] = toInts(px.resGIDs)
		case AttrGenGIDs:
			out[name] = toInts(px.genGIDs)
		case AttrLatitude:
			out[name] = px.latSum / float64(px.n)
		case AttrLongitude:
			out[name] = px.lonSum / float64(px.n)
		case AttrNPixels:
			out[name] = px.n
		case AttrAreaSqKm:
			out[name] = float64(px.n) * px.areaKm2
		default:
			sel, ok := s.selectors[name]
			if !ok {
				s.warnUnknown(name)
				continue
			}
			v, ok, err := s.selectorMean(h.Generation, sel, px.perSite)
			if err != nil {
				return nil, fmt.Errorf("gid %d attribute %s: %w", gid, name, err)
			}
			if !ok {
				s.log.Debug("selector matched no numeric values",
					zap.Int("gid", gid), zap.String("attribute", name))
				continue
			}
			out[name] = v
		}
	}
	return out, nil
}

func collect(h *Handles, win extent.Window) (*pixels, error) {
	masks, err := h.Exclusion.Rows(win.RowStart, win.RowEnd)
	if err != nil {
		return nil, err
	}
	tm, err := h.TechMap.Rows(win.RowStart, win.RowEnd)
	if err != nil {
		return nil, err
	}

	meta := h.Exclusion.Meta()
	px := &pixels{
		resGIDs: roaring.New(),
		genGIDs: roaring.New(),
		perSite: make(map[int]int),
		areaKm2: meta.PixelAreaKm2,
	}
	for i, mask := range masks {
		row := win.RowStart + i
		for col := win.ColStart; col < win.ColEnd; col++ {
			if !mask.Contains(uint32(col)) {
				continue
			}
			genGID := tm[i][col]
			if genGID < 0 {
				continue
			}
			site, ok := h.Generation.Site(int(genGID))
			if !ok {
				continue
			}
			lat, lon := meta.Coordinates(row, col)
			px.n++
			px.latSum += lat
			px.lonSum += lon
			px.resGIDs.Add(uint32(site.ResGID))
			px.genGIDs.Add(uint32(site.GenGID))
			px.perSite[site.GenGID]++
		}
	}
	return px, nil
}

// selectorMean is the pixel-weighted mean of a selector over the sites of a
// cell. Sites whose record yields no number do not contribute.
func (s *Summarizer) selectorMean(gen *generation.Store, sel selector, perSite map[int]int) (float64, bool, error) {
	genGIDs := make([]int, 0, len(perSite))
	for g := range perSite {
		genGIDs = append(genGIDs, g)
	}
	sort.Ints(genGIDs)

	var sum float64
	var weight int
	for _, g := range genGIDs {
		rec, err := gen.Record(g)
		if err != nil {
			return 0, false, err
		}
		if rec == nil {
			continue
		}
		var siteSum float64
		var siteN int
		for _, r := range sel.expr.Get(rec) {
			if f, ok := toFloat(r); ok {
				siteSum += f
				siteN++
			}
		}
		if siteN == 0 {
			continue
		}
		w := perSite[g]
		sum += siteSum / float64(siteN) * float64(w)
		weight += w
	}
	if weight == 0 {
		return 0, false, nil
	}
	return sum / float64(weight), true, nil
}

func (s *Summarizer) warnUnknown(name string) {
	if _, loaded := s.warned.LoadOrStore(name, struct{}{}); loaded {
		return
	}
	s.log.Warn("unrecognized attribute dropped", zap.String("attribute", name))
}

func toInts(bm *roaring.Bitmap) []int {
	vals := bm.ToArray()
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out
}
