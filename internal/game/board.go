package game

import "strings"

// Size is the fixed edge length of the board.
const Size = 19

// Color is the state of a single intersection. The numeric values are the
// ones used on the wire.
type Color int

const (
	Empty Color = 0
	Black Color = 1
	White Color = 2
)

// Opposite returns the other player's color. Empty has no opposite.
func (c Color) Opposite() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return Empty
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case White:
		return "white"
	}
	return "empty"
}

// Point is a board coordinate.
type Point struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// up, down, left, right
var directions = [4]Point{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// Board is a Size×Size grid of stones. It performs no rule checking and is
// not safe for concurrent use; Room owns the only writer.
type Board struct {
	cells [Size][Size]Color
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// InBounds reports whether (r,c) lies on the board.
func InBounds(r, c int) bool {
	return r >= 0 && r < Size && c >= 0 && c < Size
}

// Get returns the stone at (r,c).
func (b *Board) Get(r, c int) (Color, error) {
	if !InBounds(r, c) {
		return Empty, outOfBounds(r, c)
	}
	return b.cells[r][c], nil
}

// Set writes color at (r,c) unconditionally. Out-of-range points are ignored.
func (b *Board) Set(r, c int, color Color) {
	if !InBounds(r, c) {
		return
	}
	b.cells[r][c] = color
}

// Neighbors returns the in-bounds orthogonal neighbors of (r,c) in the order
// up, down, left, right.
func (b *Board) Neighbors(r, c int) []Point {
	out := make([]Point, 0, len(directions))
	for _, d := range directions {
		nr, nc := r+d.Row, c+d.Col
		if InBounds(nr, nc) {
			out = append(out, Point{Row: nr, Col: nc})
		}
	}
	return out
}

// at is the unchecked read used by the capture search.
func (b *Board) at(p Point) Color {
	return b.cells[p.Row][p.Col]
}

// String renders one line per row using '.', 'X' (black) and 'O' (white).
func (b *Board) String() string {
	var sb strings.Builder
	sb.Grow(Size * (Size + 1))
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			switch b.cells[r][c] {
			case Black:
				sb.WriteByte('X')
			case White:
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
