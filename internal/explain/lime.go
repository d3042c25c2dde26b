package explain

import (
	"context"
	"image"
	"math"
	"math/rand"
	"sort"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/classifier"
	"github.com/mediscan/backend/internal/vision"
)

// LIME explains a prediction by perturbing superpixel segments and
// measuring how the predicted class probability responds. Segments use a
// regular grid; the irregular superpixel algorithms buy little on
// radiology images, which have no object boundaries to snap to.
type LIME struct {
	classifier  *classifier.Classifier
	samples     int
	gridSide    int
	numFeatures int
}

func NewLIME(c *classifier.Classifier, samples, segments int) *LIME {
	if samples <= 0 {
		samples = 200
	}
	side := int(math.Round(math.Sqrt(float64(segments))))
	if side < 2 {
		side = 7
	}
	return &LIME{classifier: c, samples: samples, gridSide: side, numFeatures: 10}
}

func (l *LIME) Method() analysis.Method { return analysis.MethodLIME }

type segmentWeight struct {
	segment int
	weight  float64
}

func (l *LIME) Render(ctx context.Context, job Job) (*Rendering, error) {
	rgb := resizeRGB(job.Image)
	eq := classifier.Preprocess(rgb)

	base := l.classifier.ClassifyFeatures(classifier.ComputeFeatures(eq), eq)
	target := base.Index
	if job.Classification != nil {
		target = job.Classification.Index
	}

	nSegments := l.gridSide * l.gridSide
	rng := rand.New(rand.NewSource(seedFrom(job.AnalysisID, "lime")))

	// For each segment track the mean class probability with the segment
	// visible versus hidden; the difference is its weight.
	onSum := make([]float64, nSegments)
	onCount := make([]int, nSegments)
	offSum := make([]float64, nSegments)
	offCount := make([]int, nSegments)

	mask := make([]bool, nSegments)
	for i := 0; i < l.samples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, analysis.WrapError(analysis.KindGenerationFailure, err, "lime sampling cancelled")
		}

		for j := range mask {
			mask[j] = rng.Intn(2) == 0
		}

		perturbed := l.applyMask(eq, mask)
		probs := l.classifier.ClassifyFeatures(classifier.ComputeFeatures(perturbed), perturbed)
		p := probs.Logits[target]

		for j, visible := range mask {
			if visible {
				onSum[j] += p
				onCount[j]++
			} else {
				offSum[j] += p
				offCount[j]++
			}
		}
	}

	weights := make([]segmentWeight, nSegments)
	for j := 0; j < nSegments; j++ {
		var on, off float64
		if onCount[j] > 0 {
			on = onSum[j] / float64(onCount[j])
		}
		if offCount[j] > 0 {
			off = offSum[j] / float64(offCount[j])
		}
		weights[j] = segmentWeight{segment: j, weight: on - off}
	}

	sort.Slice(weights, func(i, j int) bool {
		return math.Abs(weights[i].weight) > math.Abs(weights[j].weight)
	})
	top := weights
	if len(top) > l.numFeatures {
		top = top[:l.numFeatures]
	}

	positive, err := vision.EncodePNG(l.renderSegments(rgb, top, true))
	if err != nil {
		return nil, analysis.WrapError(analysis.KindGenerationFailure, err, "failed to encode lime overlay")
	}
	both, err := vision.EncodePNG(l.renderSegments(rgb, top, false))
	if err != nil {
		return nil, analysis.WrapError(analysis.KindGenerationFailure, err, "failed to encode lime overlay")
	}

	return &Rendering{Primary: positive, Secondary: both}, nil
}

// applyMask hides the masked-off segments by filling them with black,
// the same hide color the perturbation baseline uses.
func (l *LIME) applyMask(eq *image.Gray, mask []bool) *image.Gray {
	out := image.NewGray(eq.Rect)
	copy(out.Pix, eq.Pix)
	for j, visible := range mask {
		if visible {
			continue
		}
		y1, y2, x1, x2 := l.segmentBounds(j)
		for y := y1; y < y2; y++ {
			for x := x1; x < x2; x++ {
				out.Pix[y*out.Stride+x] = 0
			}
		}
	}
	return out
}

func (l *LIME) segmentBounds(j int) (y1, y2, x1, x2 int) {
	row := j / l.gridSide
	col := j % l.gridSide
	cell := renderSize / l.gridSide
	y1 = row * cell
	x1 = col * cell
	y2 = y1 + cell
	x2 = x1 + cell
	if row == l.gridSide-1 {
		y2 = renderSize
	}
	if col == l.gridSide-1 {
		x2 = renderSize
	}
	return
}

// renderSegments tints influential segments over the base image: green
// for positive influence, red for negative when positiveOnly is off, and
// draws segment boundaries.
func (l *LIME) renderSegments(rgb *image.NRGBA, top []segmentWeight, positiveOnly bool) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, renderSize, renderSize))
	copy(out.Pix, rgb.Pix)

	for _, sw := range top {
		if positiveOnly && sw.weight <= 0 {
			continue
		}
		var tintR, tintG uint8
		if sw.weight > 0 {
			tintG = 255
		} else {
			tintR = 255
		}

		y1, y2, x1, x2 := l.segmentBounds(sw.segment)
		for y := y1; y < y2; y++ {
			for x := x1; x < x2; x++ {
				i := y*out.Stride + x*4
				border := y == y1 || y == y2-1 || x == x1 || x == x2-1
				if border {
					out.Pix[i] = tintR
					out.Pix[i+1] = tintG
					out.Pix[i+2] = 0
				} else {
					out.Pix[i] = blend(out.Pix[i], tintR)
					out.Pix[i+1] = blend(out.Pix[i+1], tintG)
					out.Pix[i+2] = blend(out.Pix[i+2], 0)
				}
			}
		}
	}
	return out
}
