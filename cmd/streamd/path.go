package main

import (
	"fmt"
	"math"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/coordinator"
)

// newPath returns a scripted viewer. speed is in world units per second.
func newPath(kind string, speed, radius float64, tickHz int) (coordinator.ViewerSource, error) {
	if tickHz <= 0 {
		tickHz = 30
	}
	step := speed / float64(tickHz)
	switch kind {
	case "still":
		return coordinator.ViewerFunc(func(uint64) cell.Vec2 { return cell.Vec2{} }), nil
	case "line":
		return coordinator.ViewerFunc(func(tick uint64) cell.Vec2 {
			return cell.Vec2{X: float64(tick) * step}
		}), nil
	case "circle":
		if radius <= 0 {
			return nil, fmt.Errorf("circle path needs a positive radius, got %v", radius)
		}
		return coordinator.ViewerFunc(func(tick uint64) cell.Vec2 {
			a := float64(tick) * step / radius
			return cell.Vec2{X: radius * math.Cos(a), Y: radius * math.Sin(a)}
		}), nil
	default:
		return nil, fmt.Errorf("unknown path %q (want circle, line or still)", kind)
	}
}
