package explain

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// All explainers work at a fixed analysis resolution.
const renderSize = 224

// heatmap is a renderSize x renderSize importance grid in [0,1] after
// normalization.
type heatmap [][]float64

func newHeatmap() heatmap {
	m := make(heatmap, renderSize)
	for i := range m {
		m[i] = make([]float64, renderSize)
	}
	return m
}

func resizeRGB(img image.Image) *image.NRGBA {
	return imaging.Resize(img, renderSize, renderSize, imaging.Lanczos)
}

func toGrayFloat(rgb *image.NRGBA) heatmap {
	m := newHeatmap()
	for y := 0; y < renderSize; y++ {
		for x := 0; x < renderSize; x++ {
			i := y*rgb.Stride + x*4
			m[y][x] = (float64(rgb.Pix[i]) + float64(rgb.Pix[i+1]) + float64(rgb.Pix[i+2])) / 3.0
		}
	}
	return m
}

// normalize rescales the map to [0,1] in place.
func (m heatmap) normalize() {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range m {
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi <= lo {
		for _, row := range m {
			for x := range row {
				row[x] = 0
			}
		}
		return
	}
	span := hi - lo
	for _, row := range m {
		for x := range row {
			row[x] = (row[x] - lo) / span
		}
	}
}

func (m heatmap) pow(exp float64) {
	for _, row := range m {
		for x := range row {
			row[x] = math.Pow(row[x], exp)
		}
	}
}

// boxBlur smooths with a k x k box kernel, edge-clamped.
func (m heatmap) boxBlur(k int) heatmap {
	half := k / 2
	out := newHeatmap()
	for y := 0; y < renderSize; y++ {
		for x := 0; x < renderSize; x++ {
			var sum float64
			n := 0
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					yy, xx := clampIdx(y+dy), clampIdx(x+dx)
					sum += m[yy][xx]
					n++
				}
			}
			out[y][x] = sum / float64(n)
		}
	}
	return out
}

func clampIdx(v int) int {
	if v < 0 {
		return 0
	}
	if v >= renderSize {
		return renderSize - 1
	}
	return v
}

// jetColor maps a [0,1] intensity through a piecewise jet ramp:
// blue, cyan, yellow, red.
func jetColor(v float64) color.NRGBA {
	intensity := int(clamp01(v) * 255)
	switch {
	case intensity < 64:
		return color.NRGBA{0, 0, uint8(intensity * 4), 255}
	case intensity < 128:
		return color.NRGBA{0, uint8((intensity - 64) * 4), 255, 255}
	case intensity < 192:
		return color.NRGBA{uint8((intensity - 128) * 4), 255, uint8(255 - (intensity-128)*4), 255}
	default:
		return color.NRGBA{255, uint8(255 - (intensity-192)*4), 0, 255}
	}
}

// hotColor maps [0,1] through black, red, yellow, white.
func hotColor(v float64) color.NRGBA {
	v = clamp01(v)
	r := clamp01(v * 3)
	g := clamp01(v*3 - 1)
	b := clamp01(v*3 - 2)
	return color.NRGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
}

// overlay blends a colormapped heat field over the base image, 60/40.
func overlay(rgb *image.NRGBA, heat heatmap, colormap func(float64) color.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, renderSize, renderSize))
	for y := 0; y < renderSize; y++ {
		for x := 0; x < renderSize; x++ {
			i := y*rgb.Stride + x*4
			c := colormap(heat[y][x])
			o := y*out.Stride + x*4
			out.Pix[o] = blend(rgb.Pix[i], c.R)
			out.Pix[o+1] = blend(rgb.Pix[i+1], c.G)
			out.Pix[o+2] = blend(rgb.Pix[i+2], c.B)
			out.Pix[o+3] = 255
		}
	}
	return out
}

func blend(base, heat uint8) uint8 {
	return uint8(float64(base)*0.6 + float64(heat)*0.4)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// regionalImportance turns an absolute importance field into percentage
// shares for the four quadrants plus an overlapping center window. The
// center overlap means the shares describe relative weight, not an exact
// partition, so the values sum only approximately to 100.
func regionalImportance(m heatmap) map[string]float64 {
	mid := renderSize / 2
	q := renderSize / 4

	regions := map[string]float64{
		"top_left":     regionMean(m, 0, mid, 0, mid),
		"top_right":    regionMean(m, 0, mid, mid, renderSize),
		"bottom_left":  regionMean(m, mid, renderSize, 0, mid),
		"bottom_right": regionMean(m, mid, renderSize, mid, renderSize),
		"center":       regionMean(m, q, mid+q, q, mid+q),
	}

	var total float64
	for _, v := range regions {
		total += v
	}
	if total <= 0 {
		return regions
	}
	for k, v := range regions {
		regions[k] = v / total * 100
	}
	return regions
}

func regionMean(m heatmap, y1, y2, x1, x2 int) float64 {
	var sum float64
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			sum += math.Abs(m[y][x])
		}
	}
	return sum / float64((y2-y1)*(x2-x1))
}
