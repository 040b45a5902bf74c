package layout

import "math"

// Rect is a pane's cell rectangle.
type Rect struct {
	ID     string
	X, Y   int
	Width  int
	Height int
}

// Divider is the one-cell separator drawn between panes.
type Divider struct {
	X, Y   int
	Width  int
	Height int
}

// Geometry places panes in a width x height cell area. In Single mode the
// active session fills the area. Two panes split by the ratio; more divide
// evenly along the orientation axis.
func (s State) Geometry(activeID string, width, height int) ([]Rect, []Divider) {
	if width <= 0 || height <= 0 {
		return nil, nil
	}
	if !s.Enabled || len(s.PaneIDs) < 2 {
		if activeID == "" {
			return nil, nil
		}
		return []Rect{{ID: activeID, Width: width, Height: height}}, nil
	}

	axis := width
	if s.Orientation == Horizontal {
		axis = height
	}
	n := len(s.PaneIDs)
	usable := axis - (n - 1)
	if usable < n {
		return []Rect{{ID: activeID, Width: width, Height: height}}, nil
	}

	sizes := make([]int, n)
	if n == 2 {
		first := int(math.Round(float64(usable) * ClampRatio(s.Ratio)))
		first = max(1, min(usable-1, first))
		sizes[0], sizes[1] = first, usable-first
	} else {
		for i := range sizes {
			sizes[i] = usable / n
		}
		sizes[n-1] += usable % n
	}

	rects := make([]Rect, 0, n)
	divs := make([]Divider, 0, n-1)
	off := 0
	for i, id := range s.PaneIDs {
		if s.Orientation == Horizontal {
			rects = append(rects, Rect{ID: id, X: 0, Y: off, Width: width, Height: sizes[i]})
		} else {
			rects = append(rects, Rect{ID: id, X: off, Y: 0, Width: sizes[i], Height: height})
		}
		off += sizes[i]
		if i < n-1 {
			if s.Orientation == Horizontal {
				divs = append(divs, Divider{Y: off, Width: width, Height: 1})
			} else {
				divs = append(divs, Divider{X: off, Width: 1, Height: height})
			}
			off++
		}
	}
	return rects, divs
}
