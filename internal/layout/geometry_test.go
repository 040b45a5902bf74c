package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometrySingle(t *testing.T) {
	rects, divs := State{}.Geometry("a", 80, 24)
	assert.Equal(t, []Rect{{ID: "a", Width: 80, Height: 24}}, rects)
	assert.Empty(t, divs)

	rects, _ = State{}.Geometry("", 80, 24)
	assert.Empty(t, rects)
}

func TestGeometryTwoPaneVertical(t *testing.T) {
	s := State{Enabled: true, Orientation: Vertical, PaneIDs: []string{"a", "b"}, Ratio: 0.5}
	rects, divs := s.Geometry("a", 81, 24)
	assert.Equal(t, []Rect{
		{ID: "a", X: 0, Width: 40, Height: 24},
		{ID: "b", X: 41, Width: 40, Height: 24},
	}, rects)
	assert.Equal(t, []Divider{{X: 40, Width: 1, Height: 24}}, divs)
}

func TestGeometryTwoPaneHorizontalRatio(t *testing.T) {
	s := State{Enabled: true, Orientation: Horizontal, PaneIDs: []string{"a", "b"}, Ratio: 0.25}
	rects, divs := s.Geometry("a", 80, 41)
	assert.Equal(t, []Rect{
		{ID: "a", Y: 0, Width: 80, Height: 10},
		{ID: "b", Y: 11, Width: 80, Height: 30},
	}, rects)
	assert.Equal(t, []Divider{{Y: 10, Width: 80, Height: 1}}, divs)
}

func TestGeometryGridEven(t *testing.T) {
	s := State{Enabled: true, Orientation: Vertical, PaneIDs: []string{"a", "b", "c"}, Ratio: 0.9}
	rects, divs := s.Geometry("a", 32, 10)
	assert.Len(t, divs, 2)
	assert.Equal(t, []int{10, 10, 10}, []int{rects[0].Width, rects[1].Width, rects[2].Width})
	assert.Equal(t, 22, rects[2].X)
}

func TestGeometryTooSmall(t *testing.T) {
	s := State{Enabled: true, Orientation: Vertical, PaneIDs: []string{"a", "b", "c"}}
	rects, divs := s.Geometry("b", 3, 10)
	assert.Equal(t, []Rect{{ID: "b", Width: 3, Height: 10}}, rects)
	assert.Empty(t, divs)
}
