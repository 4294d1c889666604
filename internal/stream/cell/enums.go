package cell

import (
	"fmt"
	"strings"
)

// Tier is a distance band with its own loading strategy.
type Tier uint8

const (
	Near Tier = iota
	Mid
	Far
	Horizon
)

// Tiers lists every tier in increasing distance order.
var Tiers = [...]Tier{Near, Mid, Far, Horizon}

func (t Tier) String() string {
	switch t {
	case Near:
		return "NEAR"
	case Mid:
		return "MID"
	case Far:
		return "FAR"
	case Horizon:
		return "HORIZON"
	default:
		return fmt.Sprintf("TIER(%d)", uint8(t))
	}
}

// State is the lifecycle state of a cell. Every coordinate is in exactly one.
type State uint8

const (
	Unloaded State = iota
	Queued
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case Queued:
		return "QUEUED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// Metric selects how tier radii are measured.
type Metric uint8

const (
	// Chebyshev radii cover squares; radius 1 is the 3x3 block around the viewer.
	Chebyshev Metric = iota
	ManhattanMetric
	Euclidean
)

func (m Metric) String() string {
	switch m {
	case ManhattanMetric:
		return "manhattan"
	case Euclidean:
		return "euclidean"
	default:
		return "chebyshev"
	}
}

func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chebyshev", "square":
		return Chebyshev, nil
	case "manhattan":
		return ManhattanMetric, nil
	case "euclidean":
		return Euclidean, nil
	default:
		return Chebyshev, fmt.Errorf("unknown distance metric %q", s)
	}
}

// Within reports whether an offset (dx, dy) lies inside radius r.
func (m Metric) Within(dx, dy, r int) bool {
	if r < 0 {
		return false
	}
	dx, dy = absInt(dx), absInt(dy)
	switch m {
	case ManhattanMetric:
		return dx+dy <= r
	case Euclidean:
		return dx*dx+dy*dy <= r*r
	default:
		return dx <= r && dy <= r
	}
}
