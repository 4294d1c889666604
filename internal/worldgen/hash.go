// Package worldgen derives deterministic world content from a seed: biomes,
// cell objects, landmarks, merged batch artifacts and terrain heights.
package worldgen

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash2 is a stable 64-bit hash of a seeded 2D integer point.
func Hash2(seed int64, x, y int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// Hash3 adds a salt dimension, used to draw several values for one point.
func Hash3(seed int64, x, y, salt int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	us := uint64(uint32(int32(salt)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (us * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func floorDiv(a, b int) int {
	q := a / b
	if r := a % b; r < 0 {
		q--
	}
	return q
}

func clampPermille(v int) uint64 {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return uint64(v)
}

// inCluster reports whether (x, y) falls in a blob of radius cells whose
// centers are scattered one per grid square with probability probPermille.
func inCluster(seed int64, x, y, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := floorDiv(x, grid)
	gy := floorDiv(y, grid)
	r2 := radius * radius

	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgy := gy + dy
			h := Hash2(seed, cgx, cgy)
			if h%1000 >= probPermille {
				continue
			}
			ox := int((h >> 10) % uint64(grid))
			oy := int((h >> 20) % uint64(grid))
			ddx := x - (cgx*grid + ox)
			ddy := y - (cgy*grid + oy)
			if ddx*ddx+ddy*ddy <= r2 {
				return true
			}
		}
	}
	return false
}
