package layout

import "math"

// Drag tracks one pointer drag of the two-pane divider. Move computes the
// pending ratio on every pointer event; the engine only changes on End.
type Drag struct {
	engine    *Engine
	total     float64
	startPos  float64
	startSize float64
	pending   float64
	done      bool
}

// BeginDrag starts a divider drag. total is the container size along the
// orientation axis and startPos the pointer position on that axis.
func (e *Engine) BeginDrag(total, startPos float64) (*Drag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Mode() != TwoPane || total <= 0 {
		return nil, ErrNotTwoPane
	}
	d := &Drag{engine: e, total: total, startPos: startPos, pending: e.state.Ratio}
	d.startSize = d.clampPx(math.Round(total * ClampRatio(e.state.Ratio)))
	return d, nil
}

func (d *Drag) clampPx(px float64) float64 {
	lo := float64(MinPaneSizePx)
	hi := max(lo, d.total-MinPaneSizePx)
	return max(lo, min(hi, px))
}

// Move records the pointer position and returns the pending ratio.
func (d *Drag) Move(pos float64) float64 {
	size := d.clampPx(d.startSize + pos - d.startPos)
	d.pending = ClampRatio(size / d.total)
	return d.pending
}

// Pending returns the ratio the drag would commit.
func (d *Drag) Pending() float64 { return d.pending }

// End commits the pending ratio and returns it. Later calls are no-ops.
func (d *Drag) End() float64 {
	if d.done {
		return d.pending
	}
	d.done = true
	return d.engine.SetRatio(d.pending)
}
