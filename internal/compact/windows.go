package compact

// Window is a half-open time range [From, To) in µs.
type Window struct {
	From int64
	To   int64
}

// Windows splits [from, to) into consecutive windows of the given width. The
// final window is truncated to end exactly at to. A non-positive width yields
// the whole range as one window.
func Windows(from, to, width int64) []Window {
	if from >= to {
		return nil
	}
	if width <= 0 {
		return []Window{{From: from, To: to}}
	}

	out := make([]Window, 0, (to-from+width-1)/width)
	for start := from; start < to; start += width {
		end := start + width
		if end > to {
			end = to
		}
		out = append(out, Window{From: start, To: end})
	}
	return out
}
