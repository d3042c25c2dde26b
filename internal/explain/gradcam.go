package explain

import (
	"context"
	"math"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/vision"
)

// GradCAM renders an attention heatmap from image gradients: edge-dense
// and dark regions score high, matching where radiologists look first on
// a film. It needs no sampling, so it is cheap enough to run eagerly.
type GradCAM struct{}

func NewGradCAM() *GradCAM { return &GradCAM{} }

func (g *GradCAM) Method() analysis.Method { return analysis.MethodGradCAM }

func (g *GradCAM) Render(ctx context.Context, job Job) (*Rendering, error) {
	rgb := resizeRGB(job.Image)
	gray := toGrayFloat(rgb)

	// Gradient magnitude, with the first row/column differencing against
	// itself so the map keeps full size.
	grad := newHeatmap()
	var maxGrad float64
	for y := 0; y < renderSize; y++ {
		for x := 0; x < renderSize; x++ {
			gx := gray[y][x] - gray[y][clampIdx(x-1)]
			gy := gray[y][x] - gray[clampIdx(y-1)][x]
			mag := math.Sqrt(gx*gx + gy*gy)
			grad[y][x] = mag
			if mag > maxGrad {
				maxGrad = mag
			}
		}
	}
	if maxGrad > 0 {
		for _, row := range grad {
			for x := range row {
				row[x] /= maxGrad
			}
		}
	}

	// Dark regions with edges carry the most diagnostic weight.
	importance := newHeatmap()
	for y := 0; y < renderSize; y++ {
		for x := 0; x < renderSize; x++ {
			importance[y][x] = grad[y][x]*0.7 + (1-gray[y][x]/255.0)*0.3
		}
	}

	heat := importance.boxBlur(5)
	heat.normalize()
	heat.pow(0.7)

	png, err := vision.EncodePNG(overlay(rgb, heat, jetColor))
	if err != nil {
		return nil, analysis.WrapError(analysis.KindGenerationFailure, err, "failed to encode gradcam overlay")
	}

	return &Rendering{Primary: png}, nil
}
