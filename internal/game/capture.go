package game

// GroupAndLiberties returns the group containing (r,c) in breadth-first
// visit order together with its distinct liberties. An empty or off-board
// starting point yields an empty group and no liberties.
func GroupAndLiberties(b *Board, r, c int) ([]Point, map[Point]struct{}) {
	liberties := make(map[Point]struct{})
	color, err := b.Get(r, c)
	if err != nil || color == Empty {
		return nil, liberties
	}

	start := Point{Row: r, Col: c}
	visited := map[Point]struct{}{start: {}}
	queue := []Point{start}
	var stones []Point

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		stones = append(stones, p)

		for _, n := range b.Neighbors(p.Row, p.Col) {
			switch b.at(n) {
			case Empty:
				liberties[n] = struct{}{}
			case color:
				if _, seen := visited[n]; !seen {
					visited[n] = struct{}{}
					queue = append(queue, n)
				}
			}
		}
	}
	return stones, liberties
}

// ResolveCaptures removes every opposing group adjacent to the stone just
// placed at (r,c) that has no liberties left, and returns the removed points.
// Neighbors are scanned up, down, left, right; each captured group is listed
// in BFS order. The placing group itself is never examined, so a
// self-capturing move leaves its stones on the board.
func ResolveCaptures(b *Board, r, c int, placed Color) []Point {
	opponent := placed.Opposite()
	if opponent == Empty {
		return nil
	}

	var captured []Point
	for _, n := range b.Neighbors(r, c) {
		// A previous neighbor's capture may already have cleared this point.
		if b.at(n) != opponent {
			continue
		}
		stones, liberties := GroupAndLiberties(b, n.Row, n.Col)
		if len(liberties) > 0 {
			continue
		}
		for _, s := range stones {
			b.Set(s.Row, s.Col, Empty)
		}
		captured = append(captured, stones...)
	}
	return captured
}
