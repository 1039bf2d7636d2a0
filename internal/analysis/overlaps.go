package analysis

import (
	"context"
	"math"

	"github.com/rendis/nodeforge/pkg/schema"
)

// Overlap kinds.
const (
	KindOverlap  = "overlap"
	KindTooClose = "too_close"
)

// NodeOverlap is a pair of nodes whose rects intersect or sit closer than the
// minimum gap. Percent is the overlap area relative to the smaller rect.
type NodeOverlap struct {
	A       int     `json:"a"`
	B       int     `json:"b"`
	Kind    string  `json:"kind"`
	Area    float64 `json:"area"`
	Percent float64 `json:"percent"`
}

// GroupOverlap is the group-rect counterpart of NodeOverlap.
type GroupOverlap struct {
	A       int     `json:"a"`
	B       int     `json:"b"`
	TitleA  string  `json:"title_a"`
	TitleB  string  `json:"title_b"`
	Kind    string  `json:"kind"`
	Area    float64 `json:"area"`
	Percent float64 `json:"percent"`
}

// compareRects classifies a pair. ok is false when the rects are far enough
// apart.
func compareRects(a, b schema.Rect, minGap float64) (kind string, area, percent float64, ok bool) {
	if inter, hit := a.Intersect(b); hit {
		area = inter.Area()
		smaller := math.Min(a.Area(), b.Area())
		if smaller > 0 {
			percent = math.Round(area/smaller*1000) / 10
		}
		return KindOverlap, area, percent, true
	}
	if minGap > 0 {
		if _, hit := a.Expand(minGap).Intersect(b); hit {
			return KindTooClose, 0, 0, true
		}
	}
	return "", 0, 0, false
}

// NodeOverlaps compares every pair of node rects.
func NodeOverlaps(ctx context.Context, doc *schema.Document, minGap float64) ([]NodeOverlap, error) {
	ix := newIndex(doc)
	ids := ix.sortedIDs()
	out := []NodeOverlap{}
	for i, a := range ids {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		ra := ix.nodes[a].Rect()
		for _, b := range ids[i+1:] {
			if kind, area, pct, ok := compareRects(ra, ix.nodes[b].Rect(), minGap); ok {
				out = append(out, NodeOverlap{A: a, B: b, Kind: kind, Area: area, Percent: pct})
			}
		}
	}
	return out, nil
}

// GroupOverlaps compares every pair of group rects.
func GroupOverlaps(ctx context.Context, doc *schema.Document, minGap float64) ([]GroupOverlap, error) {
	out := []GroupOverlap{}
	for i, a := range doc.Groups {
		if err := checkEvery(ctx, i); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(doc.Groups); j++ {
			b := doc.Groups[j]
			if kind, area, pct, ok := compareRects(a.Bounding, b.Bounding, minGap); ok {
				out = append(out, GroupOverlap{A: i, B: j, TitleA: a.Title, TitleB: b.Title, Kind: kind, Area: area, Percent: pct})
			}
		}
	}
	return out, nil
}
