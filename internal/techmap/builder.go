package techmap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/s2"
	"go.uber.org/zap"

	"github.com/agentic-research/scagg/internal/exclusion"
	"github.com/agentic-research/scagg/internal/generation"
	"github.com/agentic-research/scagg/internal/sqlitedb"
)

// EarthRadiusKm is the mean earth radius.
const EarthRadiusKm = 6371.0088

const kmPerDegree = EarthRadiusKm * math.Pi / 180

// Builder produces a tech-map for an exclusion/generation pair.
type Builder interface {
	Build(ctx context.Context, exclusionPath, generationPath, techmapPath string) error
}

// NearestBuilder maps every exclusion pixel to its nearest generation site.
// Ties go to the lower generation gid. With MaxDistanceKm > 0, pixels farther
// than that from every site map to NoSite.
type NearestBuilder struct {
	MaxDistanceKm float64
	Log           *zap.Logger
}

// Build writes the tech-map to a temporary file next to techmapPath and
// renames it into place once complete.
func (b *NearestBuilder) Build(ctx context.Context, exclusionPath, generationPath, techmapPath string) error {
	log := b.Log
	if log == nil {
		log = zap.NewNop()
	}

	meta, err := exclusion.ReadMeta(exclusionPath)
	if err != nil {
		return err
	}

	var sites []generation.Site
	if err := generation.StreamSites(generationPath, func(s generation.Site) error {
		sites = append(sites, s)
		return nil
	}); err != nil {
		return err
	}
	if len(sites) == 0 {
		return errors.New("generation store has no sites")
	}
	idx := newSiteIndex(sites, b.MaxDistanceKm)

	extra := sqlitedb.Meta{
		"exclusion_path":  exclusionPath,
		"generation_path": generationPath,
	}
	extra.SetFloat("max_distance_km", b.MaxDistanceKm)

	tmp := techmapPath + ".tmp"
	w, err := Create(tmp, meta.Shape, extra)
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = os.Remove(tmp)
	}

	log.Info("building techmap",
		zap.String("path", techmapPath),
		zap.Int("rows", meta.Rows),
		zap.Int("cols", meta.Cols),
		zap.Int("sites", len(sites)))

	row := make([]int32, meta.Cols)
	mapped := 0
	for r := 0; r < meta.Rows; r++ {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			cleanup()
			return err
		}
		for c := 0; c < meta.Cols; c++ {
			lat, lon := meta.Coordinates(r, c)
			gid, ok := idx.nearest(lat, lon, b.MaxDistanceKm)
			if !ok {
				row[c] = NoSite
				continue
			}
			row[c] = int32(gid)
			mapped++
		}
		if err := w.SetRow(r, row); err != nil {
			_ = w.Close()
			cleanup()
			return err
		}
	}
	if err := w.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, techmapPath); err != nil {
		cleanup()
		return fmt.Errorf("install techmap: %w", err)
	}

	log.Info("techmap built",
		zap.String("path", techmapPath),
		zap.Int("mapped_pixels", mapped),
		zap.Float64("coverage", float64(mapped)/float64(meta.Rows*meta.Cols)))
	return nil
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

type bucketKey struct{ lat, lon int }

// siteIndex buckets sites on a lat/lon grid for nearest-neighbour search.
type siteIndex struct {
	cell    float64
	buckets map[bucketKey][]generation.Site
	lo, hi  bucketKey
}

func newSiteIndex(sites []generation.Site, maxDistanceKm float64) *siteIndex {
	cell := maxDistanceKm / kmPerDegree
	if cell <= 0 {
		minLat, maxLat := sites[0].Latitude, sites[0].Latitude
		minLon, maxLon := sites[0].Longitude, sites[0].Longitude
		for _, s := range sites[1:] {
			minLat, maxLat = math.Min(minLat, s.Latitude), math.Max(maxLat, s.Latitude)
			minLon, maxLon = math.Min(minLon, s.Longitude), math.Max(maxLon, s.Longitude)
		}
		span := math.Max(maxLat-minLat, maxLon-minLon)
		cell = span / math.Sqrt(float64(len(sites)))
	}
	if cell < 1e-6 {
		cell = 1e-6
	}

	idx := &siteIndex{cell: cell, buckets: make(map[bucketKey][]generation.Site)}
	for i, s := range sites {
		k := idx.key(s.Latitude, s.Longitude)
		if i == 0 {
			idx.lo, idx.hi = k, k
		}
		idx.lo.lat, idx.hi.lat = min(idx.lo.lat, k.lat), max(idx.hi.lat, k.lat)
		idx.lo.lon, idx.hi.lon = min(idx.lo.lon, k.lon), max(idx.hi.lon, k.lon)
		// StreamSites yields gen gid order, so each bucket stays sorted.
		idx.buckets[k] = append(idx.buckets[k], s)
	}
	return idx
}

func (idx *siteIndex) key(lat, lon float64) bucketKey {
	return bucketKey{int(math.Floor(lat / idx.cell)), int(math.Floor(lon / idx.cell))}
}

// nearest searches rings of buckets outward from the pixel until no closer
// site can exist.
func (idx *siteIndex) nearest(lat, lon, maxDistanceKm float64) (int, bool) {
	center := idx.key(lat, lon)
	best, bestDist := -1, math.Inf(1)

	for r := 0; ; r++ {
		if r > 1 {
			// Anything in ring r is at least r-1 cells away along some axis.
			// Degrees of longitude are the shorter ones, so bound with those.
			edgeLat := math.Min(89.9, math.Abs(lat)+float64(r)*idx.cell)
			bound := float64(r-1) * idx.cell * kmPerDegree * math.Cos(edgeLat*math.Pi/180)
			if bound > bestDist || (maxDistanceKm > 0 && bound > maxDistanceKm) {
				break
			}
		}

		visit := func(dl, dn int) {
			for _, s := range idx.buckets[bucketKey{center.lat + dl, center.lon + dn}] {
				d := DistanceKm(lat, lon, s.Latitude, s.Longitude)
				if d < bestDist || (d == bestDist && s.GenGID < best) {
					best, bestDist = s.GenGID, d
				}
			}
		}
		if r == 0 {
			visit(0, 0)
		} else {
			for dn := -r; dn <= r; dn++ {
				visit(-r, dn)
				visit(r, dn)
			}
			for dl := -r + 1; dl < r; dl++ {
				visit(dl, -r)
				visit(dl, r)
			}
		}

		if center.lat-r <= idx.lo.lat && center.lat+r >= idx.hi.lat &&
			center.lon-r <= idx.lo.lon && center.lon+r >= idx.hi.lon {
			break
		}
	}

	if best < 0 {
		return 0, false
	}
	if maxDistanceKm > 0 && bestDist > maxDistanceKm {
		return 0, false
	}
	return best, true
}
