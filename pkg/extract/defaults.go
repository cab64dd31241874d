package extract

// DefaultCursorScore is the production matching metric for
// NewCursorPlugin: exhaustive sum-of-absolute-differences search of
// tmpl over region, mapped to a confidence in [0, 1] (1 = identical).
// Tests substitute a cheaper stub (see cursor_test.go); this is the
// one wired into the shipped CLI.
func DefaultCursorScore(region []byte, regionW, regionH int, tmpl []byte, tw, th int) (x, y int, confidence float64) {
	bestX, bestY := 0, 0
	bestScore := -1.0
	for cy := 0; cy <= regionH-th; cy++ {
		for cx := 0; cx <= regionW-tw; cx++ {
			var sumDiff int
			for ty := 0; ty < th; ty++ {
				rowOff := (cy+ty)*regionW + cx
				tOff := ty * tw
				for tx := 0; tx < tw; tx++ {
					d := int(region[rowOff+tx]) - int(tmpl[tOff+tx])
					if d < 0 {
						d = -d
					}
					sumDiff += d
				}
			}
			score := 1 - float64(sumDiff)/float64(255*tw*th)
			if score > bestScore {
				bestScore = score
				bestX, bestY = cx, cy
			}
		}
	}
	if bestScore < 0 {
		return 0, 0, 0
	}
	return bestX, bestY, bestScore
}

// DefaultVisualDiff is the production VisualDiffFunc for
// NewTemporalSegmentPlugin: mean absolute difference over the two
// downscaled grayscale buffers, normalized to [0, 1], skipping any
// index masked volatile.
func DefaultVisualDiff(prevGray, currGray []byte, volatileMask []bool) float64 {
	n := len(prevGray)
	if len(currGray) < n {
		n = len(currGray)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if volatileMask != nil && i < len(volatileMask) && volatileMask[i] {
			continue
		}
		d := int(prevGray[i]) - int(currGray[i])
		if d < 0 {
			d = -d
		}
		sum += float64(d)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count) / 255
}
