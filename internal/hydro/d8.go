package hydro

import "math"

// Direction is a D8 flow code. Codes are powers of two starting east and
// turning clockwise; zero means no flow.
type Direction uint8

const (
	NoFlow Direction = 0
	East   Direction = 1
	SE     Direction = 2
	South  Direction = 4
	SW     Direction = 8
	West   Direction = 16
	NW     Direction = 32
	North  Direction = 64
	NE     Direction = 128
)

// neighbours in tie-break priority order.
var neighbours = [8]struct {
	dir    Direction
	dr, dc int
}{
	{East, 0, 1},
	{SE, 1, 1},
	{South, 1, 0},
	{SW, 1, -1},
	{West, 0, -1},
	{NW, -1, -1},
	{North, -1, 0},
	{NE, -1, 1},
}

// Offset returns the row/column step for d. ok is false for NoFlow and
// unknown codes.
func (d Direction) Offset() (dr, dc int, ok bool) {
	for _, n := range neighbours {
		if n.dir == d {
			return n.dr, n.dc, true
		}
	}
	return 0, 0, false
}

// Reverse returns the direction pointing back along d.
func (d Direction) Reverse() Direction {
	switch d {
	case NoFlow:
		return NoFlow
	case East, SE, South, SW:
		return d << 4
	default:
		return d >> 4
	}
}

func (d Direction) String() string {
	switch d {
	case East:
		return "E"
	case SE:
		return "SE"
	case South:
		return "S"
	case SW:
		return "SW"
	case West:
		return "W"
	case NW:
		return "NW"
	case North:
		return "N"
	case NE:
		return "NE"
	}
	return "-"
}

// stepLength returns the centre-to-centre distance for a neighbour step.
func stepLength(dr, dc int, cw, ch float64) float64 {
	switch {
	case dr == 0:
		return cw
	case dc == 0:
		return ch
	}
	return math.Hypot(cw, ch)
}
