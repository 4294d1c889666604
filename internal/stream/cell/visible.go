package cell

import "sort"

// Bands holds the outer radius of each cell-bearing tier. A tier whose radius
// does not exceed the previous tier's radius has an empty band. Horizon has no
// cells.
type Bands struct {
	Near   int
	Mid    int
	Far    int
	Metric Metric
}

func (b Bands) radius(t Tier) int {
	switch t {
	case Near:
		return b.Near
	case Mid:
		return b.Mid
	case Far:
		return b.Far
	default:
		return -1
	}
}

// MaxRadius is the largest radius over all tiers.
func (b Bands) MaxRadius() int {
	return max(b.Near, b.Mid, b.Far, 0)
}

// Classify returns the innermost tier containing offset (dx, dy).
func (b Bands) Classify(dx, dy int) (Tier, bool) {
	for _, t := range [...]Tier{Near, Mid, Far} {
		if b.Metric.Within(dx, dy, b.radius(t)) {
			return t, true
		}
	}
	return Horizon, false
}

// Visible is one member of the visible set.
type Visible struct {
	Coord Coord
	Tier  Tier
	// Dist is the Manhattan distance to the viewer cell.
	Dist int
}

// Priority is larger for cells that should load sooner.
func (v Visible) Priority() int { return -v.Dist }

// ComputeVisible returns the visible set around center ordered by distance,
// then coordinate.
func ComputeVisible(center Coord, b Bands) []Visible {
	r := b.MaxRadius()
	out := make([]Visible, 0, (2*r+1)*(2*r+1))
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			t, ok := b.Classify(dx, dy)
			if !ok {
				continue
			}
			out = append(out, Visible{
				Coord: center.Add(dx, dy),
				Tier:  t,
				Dist:  absInt(dx) + absInt(dy),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dist != out[j].Dist {
			return out[i].Dist < out[j].Dist
		}
		return out[i].Coord.Less(out[j].Coord)
	})
	return out
}
