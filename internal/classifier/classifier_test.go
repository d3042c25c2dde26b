package classifier

import (
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/mediscan/backend/internal/analysis"
)

// flatImage is a uniform gray field, the most "normal" input possible.
func flatImage(w, h int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

// noisyImage has high local variance everywhere.
func noisyImage(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func TestClassifyRejectsSmallImages(t *testing.T) {
	c := New(nil, 64, 64)
	_, err := c.Classify(flatImage(10, 10, 128))
	if err == nil {
		t.Fatal("expected input error for 10x10 image")
	}
	if !analysis.IsKind(err, analysis.KindInput) {
		t.Errorf("error kind = %q, want input_error", analysis.KindOf(err))
	}
}

func TestClassifyFlatImageIsNormal(t *testing.T) {
	c := New(nil, 64, 64)
	got, err := c.Classify(flatImage(128, 128, 120))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Label != "Normal" {
		t.Errorf("label = %q, want Normal for a featureless image", got.Label)
	}
}

func TestClassifyDistributionSumsToOne(t *testing.T) {
	c := New(nil, 64, 64)
	got, err := c.Classify(noisyImage(128, 128, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Logits) != 4 {
		t.Fatalf("logits = %d entries, want 4", len(got.Logits))
	}
	var sum float64
	for _, p := range got.Logits {
		if p <= 0 {
			t.Errorf("probability %v not positive", p)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
}

func TestClassifyConfidenceClamped(t *testing.T) {
	c := New(nil, 64, 64)
	for _, img := range []image.Image{
		flatImage(128, 128, 0),
		flatImage(128, 128, 255),
		noisyImage(128, 128, 7),
	} {
		got, err := c.Classify(img)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Confidence < 0.55 || got.Confidence > 0.93 {
			t.Errorf("confidence %v outside [0.55, 0.93]", got.Confidence)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(nil, 64, 64)
	img := noisyImage(128, 128, 42)

	a, err := c.Classify(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := c.Classify(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Label != b.Label || a.Confidence != b.Confidence {
		t.Errorf("classification not deterministic: %+v vs %+v", a, b)
	}
	for i := range a.Logits {
		if a.Logits[i] != b.Logits[i] {
			t.Errorf("logit %d differs between runs", i)
		}
	}
}

func TestClassifyFindingsNeverEmpty(t *testing.T) {
	c := New(nil, 64, 64)
	got, err := c.Classify(flatImage(128, 128, 120))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Findings) == 0 {
		t.Error("findings must not be empty")
	}
}

func TestFindingsExposure(t *testing.T) {
	tests := []struct {
		name       string
		brightness float64
		want       string
	}{
		{"dark", 40, "Underexposed image (dark)"},
		{"bright", 200, "Overexposed image (bright)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Features{Brightness: tt.brightness, Sharpness: 30}
			got := findings(f, false)
			found := false
			for _, s := range got {
				if s == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("findings %v missing %q", got, tt.want)
			}
		})
	}
}

func TestLocalVarianceFlatIsZero(t *testing.T) {
	q95, mean := localVariance(flatImage(64, 64, 100), 15)
	if q95 != 0 || mean != 0 {
		t.Errorf("flat image variance q95=%v mean=%v, want 0", q95, mean)
	}
}

func TestEqualizePreservesSize(t *testing.T) {
	img := noisyImage(32, 48, 3)
	eq := equalize(img)
	if eq.Rect != img.Rect {
		t.Errorf("equalize changed bounds: %v -> %v", img.Rect, eq.Rect)
	}
}
