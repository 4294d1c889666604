package tier

import (
	"worldstream.ai/internal/stream/cell"
)

// Policy is the configuration of one tier.
type Policy struct {
	Radius int
	// CellCap bounds Queued+Loading+Loaded cells of the tier. <= 0 admits nothing.
	CellCap int
}

// Config is the per-tier policy set.
type Config struct {
	Metric cell.Metric
	Near   Policy
	Mid    Policy
	Far    Policy

	// BatchSize is the MID batch edge length in cells.
	BatchSize int
	// ProxyCap bounds the number of FAR impostors regardless of cell count.
	ProxyCap int
}

// Classifier assigns tiers and enforces per-tier caps.
type Classifier struct {
	bands     cell.Bands
	caps      [len(cell.Tiers)]int
	refused   [len(cell.Tiers)]uint64
	batchSize int
	proxyCap  int
}

func NewClassifier(cfg Config) *Classifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	c := &Classifier{
		bands: cell.Bands{
			Near:   cfg.Near.Radius,
			Mid:    cfg.Mid.Radius,
			Far:    cfg.Far.Radius,
			Metric: cfg.Metric,
		},
		batchSize: cfg.BatchSize,
		proxyCap:  cfg.ProxyCap,
	}
	c.caps[cell.Near] = cfg.Near.CellCap
	c.caps[cell.Mid] = cfg.Mid.CellCap
	c.caps[cell.Far] = cfg.Far.CellCap
	return c
}

func (c *Classifier) Bands() cell.Bands { return c.bands }

// Classify returns the tier of target as seen from viewer. ok is false beyond
// the FAR radius, where the horizon backdrop applies.
func (c *Classifier) Classify(viewer, target cell.Coord) (cell.Tier, bool) {
	return c.bands.Classify(target.X-viewer.X, target.Y-viewer.Y)
}

// Visible computes the visible set around viewer.
func (c *Classifier) Visible(viewer cell.Coord) []cell.Visible {
	return cell.ComputeVisible(viewer, c.bands)
}

// Admit reports whether one more cell of tier t fits given resident cells
// already counted against the cap. Refusals are counted.
func (c *Classifier) Admit(t cell.Tier, resident int) bool {
	if int(t) >= len(c.caps) || t == cell.Horizon {
		return false
	}
	if resident < c.caps[t] {
		return true
	}
	c.refused[t]++
	return false
}

func (c *Classifier) Cap(t cell.Tier) int { return c.caps[t] }

// Refused is the number of cap refusals for tier t.
func (c *Classifier) Refused(t cell.Tier) uint64 { return c.refused[t] }

func (c *Classifier) BatchSize() int { return c.batchSize }

func (c *Classifier) ProxyCap() int { return c.proxyCap }
