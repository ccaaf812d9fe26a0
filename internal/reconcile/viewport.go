package reconcile

// Viewport is a scroll position expressed relative to an anchor entry, the
// message the user is currently looking at.
type Viewport struct {
	AnchorID string
	Offset   float64
}

// HeightFunc returns the rendered height of an entry.
type HeightFunc func(Entry) float64

// Compensate keeps the anchor visually still across a merge that changed the
// entries above it, typically an older page being prepended. The offset moves
// by the height added or removed above the anchor.
func Compensate(before, after State, vp Viewport, height HeightFunc) Viewport {
	if vp.AnchorID == "" || height == nil {
		return vp
	}
	prev, ok := heightAbove(before, vp.AnchorID, height)
	if !ok {
		return vp
	}
	next, ok := heightAbove(after, vp.AnchorID, height)
	if !ok {
		return vp
	}
	vp.Offset += next - prev
	if vp.Offset < 0 {
		vp.Offset = 0
	}
	return vp
}

func heightAbove(s State, anchorID string, height HeightFunc) (float64, bool) {
	key := s.Resolve(anchorID)
	var total float64
	for _, k := range s.order {
		if k == key {
			return total, true
		}
		total += height(s.entries[k])
	}
	return 0, false
}
