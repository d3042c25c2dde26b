// Package classifier scores radiology images against four diagnostic
// classes using handcrafted image features. It is deterministic: the same
// image always produces the same distribution.
package classifier

import (
	"image"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/pkg/logger"
)

// Canonical class order; Logits follow this order.
var DefaultClasses = []string{"Normal", "Pneumonia", "Tumor", "Fracture"}

const (
	idxNormal = iota
	idxPneumonia
	idxTumor
	idxFracture
)

// Features are the global image statistics the scoring rules consume.
// Exposed so explainability methods can perturb and re-score.
type Features struct {
	Brightness float64
	Contrast   float64
	Sharpness  float64
	EdgeScore  float64
	Opacity    float64
	Aspect     float64
}

type Classifier struct {
	classes   []string
	minWidth  int
	minHeight int
}

func New(classes []string, minWidth, minHeight int) *Classifier {
	if len(classes) != len(DefaultClasses) {
		classes = DefaultClasses
	}
	if minWidth <= 0 {
		minWidth = 64
	}
	if minHeight <= 0 {
		minHeight = 64
	}
	return &Classifier{classes: classes, minWidth: minWidth, minHeight: minHeight}
}

func (c *Classifier) Classes() []string { return c.classes }

// Classify runs the full feature pipeline on a decoded image.
func (c *Classifier) Classify(img image.Image) (*analysis.ClassificationResult, error) {
	bounds := img.Bounds()
	if bounds.Dx() < c.minWidth || bounds.Dy() < c.minHeight {
		return nil, analysis.NewError(analysis.KindInput,
			"image %dx%d below minimum %dx%d", bounds.Dx(), bounds.Dy(), c.minWidth, c.minHeight)
	}

	eq := Preprocess(img)
	feats := ComputeFeatures(eq)
	return c.ClassifyFeatures(feats, eq), nil
}

// ClassifyFeatures scores an already-preprocessed image. Explainability
// methods call this directly with perturbed inputs.
func (c *Classifier) ClassifyFeatures(feats Features, eq *image.Gray) *analysis.ClassificationResult {
	probs := c.score(feats)

	nonChest := looksNonChest(feats, eq)
	if nonChest {
		probs = []float64{0.88, 0.04, 0.04, 0.04}
	}

	// Low-opacity chest films skew Normal; the raw rules otherwise lean
	// toward Pneumonia on clean images.
	if !nonChest && feats.Opacity < 0.22 {
		probs[idxNormal] = math.Max(0.70, probs[idxNormal]+0.25)
		probs[idxPneumonia] = math.Max(0.02, probs[idxPneumonia]-0.20)
		probs[idxTumor] *= 0.95
		probs[idxFracture] *= 0.95
		probs = renormalize(probs)
	}

	best := argmax(probs)
	confidence := clampRange(probs[best], 0.55, 0.93)

	result := &analysis.ClassificationResult{
		Label:      c.classes[best],
		Index:      best,
		Confidence: confidence,
		Logits:     probs,
		Findings:   findings(feats, nonChest),
	}

	logger.Debug("Image classified",
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("opacity", feats.Opacity),
	)
	return result
}

// score applies the rule weights and normalizes to a distribution.
func (c *Classifier) score(f Features) []float64 {
	nb := clampRange((f.Brightness-90)/60.0, -1, 1)
	nc := clampRange((f.Contrast-40)/40.0, -1, 1)
	ns := clampRange((f.Sharpness-25)/50.0, -1, 1)
	ne := clampRange((f.EdgeScore-25)/40.0, -1, 1)
	no := clampRange(f.Opacity*3.0, 0, 1)

	probs := make([]float64, len(DefaultClasses))
	probs[idxPneumonia] = 0.5*no + 0.2*(1-math.Abs(nb)) + 0.2*math.Max(0, nc) + 0.1*(1-math.Max(0, ns))
	probs[idxTumor] = 0.4*no + 0.4*math.Max(0, ne) + 0.2*math.Max(0, ns)
	probs[idxFracture] = 0.6*math.Max(0, ns) + 0.3*math.Max(0, ne) + 0.1*math.Max(0, nc)
	probs[idxNormal] = 0.5*(1-no) + 0.2*(1-math.Max(0, ne)) + 0.2*(1-math.Max(0, ns)) + 0.1*(1-math.Abs(nb))

	return renormalize(probs)
}

// looksNonChest gates out panoramic/dental plates: very wide aspect with
// edges or brightness concentrated in the lower third.
func looksNonChest(f Features, eq *image.Gray) bool {
	if f.Aspect <= 1.6 {
		return false
	}
	h := eq.Rect.Dy()
	t1, t2 := h/3, 2*h/3
	topE := bandEdgeMean(eq, 0, t1)
	botE := bandEdgeMean(eq, t2, h)
	topB := bandMean(eq, 0, t1)
	botB := bandMean(eq, t2, h)
	return (botE+1e-6)/(topE+1e-6) > 1.35 || (botB+1e-6)/(topB+1e-6) > 1.12
}

func findings(f Features, nonChest bool) []string {
	var out []string
	if f.Brightness < 70 {
		out = append(out, "Underexposed image (dark)")
	}
	if f.Brightness > 180 {
		out = append(out, "Overexposed image (bright)")
	}
	if f.Sharpness < 15 {
		out = append(out, "Low sharpness (motion blur / out of focus)")
	}
	if f.Opacity > 0.30 {
		if nonChest {
			out = append(out, "Increased soft-tissue density")
		} else {
			out = append(out, "Diffuse opacities detected (possible pneumonia)")
		}
	}
	if f.EdgeScore > 55 && f.Sharpness > 40 {
		out = append(out, "Strong linear edges (possible fracture)")
	}
	if len(out) == 0 {
		out = append(out, "No strong abnormalities detected")
	}
	return out
}

// Preprocess produces the equalized grayscale form the features and the
// saliency maps are computed from.
func Preprocess(img image.Image) *image.Gray {
	gray := toGray(img)
	blurred := median3(gray)
	return equalize(blurred)
}

// ComputeFeatures extracts the global statistics from a preprocessed image.
func ComputeFeatures(eq *image.Gray) Features {
	w, h := eq.Rect.Dx(), eq.Rect.Dy()
	mean, std := meanStd(eq)
	q95, varMean := localVariance(eq, 15)
	opacity := 0.0
	if q95 > 0 {
		opacity = math.Max(0, (q95-varMean)/(q95+1e-6))
	}
	return Features{
		Brightness: mean,
		Contrast:   std,
		Sharpness:  laplacianVariance(eq),
		EdgeScore:  edgeScore(eq),
		Opacity:    opacity,
		Aspect:     float64(w) / float64(h),
	}
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return gray
}

func median3(gray *image.Gray) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := image.NewGray(gray.Rect)
	var window [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := clampInt(y+dy, 0, h-1), clampInt(x+dx, 0, w-1)
					window[n] = gray.Pix[yy*gray.Stride+xx]
					n++
				}
			}
			sort.Slice(window[:], func(i, j int) bool { return window[i] < window[j] })
			out.Pix[y*out.Stride+x] = window[4]
		}
	}
	return out
}

// equalize applies histogram equalization.
func equalize(gray *image.Gray) *image.Gray {
	var hist [256]int
	total := 0
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[gray.Pix[y*gray.Stride+x]]++
			total++
		}
	}
	if total == 0 {
		return gray
	}

	var lut [256]uint8
	cum := 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		lut[i] = uint8(float64(cum) / float64(total) * 255.0)
	}

	out := image.NewGray(gray.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = lut[gray.Pix[y*gray.Stride+x]]
		}
	}
	return out
}

func meanStd(gray *image.Gray) (float64, float64) {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	n := float64(w * h)
	if n == 0 {
		return 0, 0
	}
	var sum, sum2 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(gray.Pix[y*gray.Stride+x])
			sum += v
			sum2 += v * v
		}
	}
	mean := sum / n
	variance := sum2/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// laplacianVariance approximates focus: the variance of a 4-neighbor
// Laplacian response. Low values indicate blur.
func laplacianVariance(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	n := float64(w * h)
	if n == 0 {
		return 0
	}
	var sum, sum2 float64
	at := func(x, y int) float64 {
		return float64(gray.Pix[clampInt(y, 0, h-1)*gray.Stride+clampInt(x, 0, w-1)])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lap := -4*at(x, y) + at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)
			sum += lap
			sum2 += lap * lap
		}
	}
	mean := sum / n
	variance := sum2/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return variance
}

// edgeScore is the mean absolute horizontal and vertical gradient.
func edgeScore(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 2 || h < 2 {
		return 0
	}
	var sumX, sumY float64
	for y := 0; y < h; y++ {
		for x := 0; x < w-1; x++ {
			sumX += math.Abs(float64(gray.Pix[y*gray.Stride+x+1]) - float64(gray.Pix[y*gray.Stride+x]))
		}
	}
	for y := 0; y < h-1; y++ {
		for x := 0; x < w; x++ {
			sumY += math.Abs(float64(gray.Pix[(y+1)*gray.Stride+x]) - float64(gray.Pix[y*gray.Stride+x]))
		}
	}
	meanX := sumX / float64((w-1)*h)
	meanY := sumY / float64(w*(h-1))
	return (meanX + meanY) / 2.0
}

// localVariance computes a windowed variance map via integral images and
// returns its 95th percentile and mean, the inputs to the opacity score.
func localVariance(gray *image.Gray, window int) (q95, mean float64) {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w == 0 || h == 0 {
		return 0, 0
	}

	// Integral images of values and squares, 1-pixel border of zeros.
	sum := make([]float64, (w+1)*(h+1))
	sum2 := make([]float64, (w+1)*(h+1))
	stride := w + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(gray.Pix[y*gray.Stride+x])
			idx := (y+1)*stride + (x + 1)
			sum[idx] = v + sum[idx-1] + sum[idx-stride] - sum[idx-stride-1]
			sum2[idx] = v*v + sum2[idx-1] + sum2[idx-stride] - sum2[idx-stride-1]
		}
	}

	half := window / 2
	variances := make([]float64, 0, w*h)
	var total float64
	for y := 0; y < h; y++ {
		y1 := clampInt(y-half, 0, h-1)
		y2 := clampInt(y+half, 0, h-1)
		for x := 0; x < w; x++ {
			x1 := clampInt(x-half, 0, w-1)
			x2 := clampInt(x+half, 0, w-1)
			n := float64((y2 - y1 + 1) * (x2 - x1 + 1))

			s := sum[(y2+1)*stride+x2+1] - sum[y1*stride+x2+1] - sum[(y2+1)*stride+x1] + sum[y1*stride+x1]
			s2 := sum2[(y2+1)*stride+x2+1] - sum2[y1*stride+x2+1] - sum2[(y2+1)*stride+x1] + sum2[y1*stride+x1]

			m := s / n
			v := s2/n - m*m
			if v < 0 {
				v = 0
			}
			variances = append(variances, v)
			total += v
		}
	}

	sort.Float64s(variances)
	q95 = variances[int(float64(len(variances)-1)*0.95)]
	mean = total / float64(len(variances))
	return q95, mean
}

func bandMean(gray *image.Gray, y1, y2 int) float64 {
	w := gray.Rect.Dx()
	if y2 <= y1 || w == 0 {
		return 0
	}
	var sum float64
	for y := y1; y < y2; y++ {
		for x := 0; x < w; x++ {
			sum += float64(gray.Pix[y*gray.Stride+x])
		}
	}
	return sum / float64((y2-y1)*w)
}

func bandEdgeMean(gray *image.Gray, y1, y2 int) float64 {
	w := gray.Rect.Dx()
	if y2-y1 < 2 || w < 2 {
		return 0
	}
	var sum float64
	n := 0
	for y := y1; y < y2-1; y++ {
		for x := 0; x < w-1; x++ {
			gx := math.Abs(float64(gray.Pix[y*gray.Stride+x+1]) - float64(gray.Pix[y*gray.Stride+x]))
			gy := math.Abs(float64(gray.Pix[(y+1)*gray.Stride+x]) - float64(gray.Pix[y*gray.Stride+x]))
			sum += gx + gy
			n++
		}
	}
	return sum / float64(n)
}

func renormalize(probs []float64) []float64 {
	var sum float64
	for i, p := range probs {
		if p < 1e-6 {
			probs[i] = 1e-6
		}
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
