// Package hexmap provides coordinate geometry for the hexagonal world map.
//
// Settlements are addressed by offset coordinates (odd-q vertical layout:
// odd columns are shifted down half a hex). Distance calculations convert
// to cube coordinates, where the hex metric is half the L1 norm.
package hexmap

import "time"

// Coord is an offset hex coordinate (column, row).
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cube is a cube hex coordinate. Invariant: Q + R + S == 0.
type Cube struct {
	Q, R, S int
}

// ToCube converts an odd-q offset coordinate to cube coordinates.
func ToCube(c Coord) Cube {
	q := c.X
	r := c.Y - (c.X-(c.X&1))/2
	return Cube{Q: q, R: r, S: -q - r}
}

// Distance returns the hex distance between two offset coordinates.
func Distance(a, b Coord) int {
	ca, cb := ToCube(a), ToCube(b)
	return (abs(ca.Q-cb.Q) + abs(ca.R-cb.R) + abs(ca.S-cb.S)) / 2
}

// Neighbors returns the six adjacent coordinates of c.
func Neighbors(c Coord) []Coord {
	even := [6]Coord{{1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {0, 1}}
	odd := [6]Coord{{1, 1}, {1, 0}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}
	dirs := even
	if c.X&1 == 1 {
		dirs = odd
	}
	out := make([]Coord, 6)
	for i, d := range dirs {
		out[i] = Coord{X: c.X + d.X, Y: c.Y + d.Y}
	}
	return out
}

// Ring returns all coordinates at exactly radius r around center.
// r == 0 returns just the center.
func Ring(center Coord, r int) []Coord {
	if r == 0 {
		return []Coord{center}
	}
	var out []Coord
	for x := center.X - r; x <= center.X+r; x++ {
		for y := center.Y - r; y <= center.Y+r; y++ {
			c := Coord{X: x, Y: y}
			if Distance(center, c) == r {
				out = append(out, c)
			}
		}
	}
	return out
}

// TravelTime computes how long a force needs to cover dist hexes.
// minutesPerHex is the speed of the slowest unit in the force; worldSpeed
// scales the whole world (higher = faster travel).
func TravelTime(dist int, minutesPerHex float64, worldSpeed float64) time.Duration {
	if dist <= 0 || minutesPerHex <= 0 {
		return 0
	}
	if worldSpeed <= 0 {
		worldSpeed = 1
	}
	minutes := float64(dist) * minutesPerHex / worldSpeed
	return time.Duration(minutes * float64(time.Minute))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
