package diagnostics

import (
	"math"
	"slices"
)

// subsample copies every step-th pixel in both directions.
func subsample(pix []byte, width, height, step int) []byte {
	if step <= 1 {
		return slices.Clone(pix)
	}
	out := make([]byte, 0, ((width+step-1)/step)*((height+step-1)/step))
	for y := 0; y < height; y += step {
		row := pix[y*width : (y+1)*width]
		for x := 0; x < width; x += step {
			out = append(out, row[x])
		}
	}
	return out
}

// difference compares two equally sized planes. It returns the number of
// pixels whose difference exceeds noise and the summed absolute difference.
func difference(cur, prev []byte, noise int) (changed int, total int64) {
	for i := range cur {
		d := int(cur[i]) - int(prev[i])
		if d < 0 {
			d = -d
		}
		total += int64(d)
		if d > noise {
			changed++
		}
	}
	return changed, total
}

// flatBlockRatio returns the share of full size x size tiles whose standard
// deviation is below flatStd.
func flatBlockRatio(pix []byte, width, height, size int, flatStd float64) float64 {
	cols, rows := width/size, height/size
	if cols == 0 || rows == 0 {
		return 0
	}

	n := float64(size * size)
	flat := 0
	for by := range rows {
		for bx := range cols {
			var sum, sumSq float64
			for y := by * size; y < (by+1)*size; y++ {
				row := pix[y*width+bx*size : y*width+(bx+1)*size]
				for _, p := range row {
					v := float64(p)
					sum += v
					sumSq += v * v
				}
			}
			mean := sum / n
			variance := sumSq/n - mean*mean
			if math.Sqrt(math.Max(variance, 0)) < flatStd {
				flat++
			}
		}
	}
	return float64(flat) / float64(cols*rows)
}

// laplacianVariance is the variance of the 4-neighbour Laplacian over the
// frame interior. Blurred pictures score low.
func laplacianVariance(pix []byte, width, height int) float64 {
	if width < 3 || height < 3 {
		return 0
	}

	var sum, sumSq float64
	count := 0
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			i := y*width + x
			l := 4*float64(pix[i]) - float64(pix[i-1]) - float64(pix[i+1]) - float64(pix[i-width]) - float64(pix[i+width])
			sum += l
			sumSq += l * l
			count++
		}
	}
	mean := sum / float64(count)
	return math.Max(sumSq/float64(count)-mean*mean, 0)
}

// percentileSpread is the distance between the 5th and 95th percentile of
// the luma histogram.
func percentileSpread(pix []byte) float64 {
	var hist [256]int
	for _, p := range pix {
		hist[p]++
	}

	total := len(pix)
	lowTarget := int(math.Ceil(float64(total) * 0.05))
	highTarget := int(math.Ceil(float64(total) * 0.95))

	low, high := -1, -1
	cum := 0
	for v, c := range hist {
		cum += c
		if low < 0 && cum >= lowTarget {
			low = v
		}
		if cum >= highTarget {
			high = v
			break
		}
	}
	if low < 0 || high < 0 {
		return 0
	}
	return float64(high - low)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return math.NaN()
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
