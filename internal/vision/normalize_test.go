package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/mediscan/backend/internal/analysis"
)

func testImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(100 + (x+y)%80)})
		}
	}
	return img
}

func TestDecodeRejectsEmptyData(t *testing.T) {
	_, err := Decode(nil)
	if !analysis.IsKind(err, analysis.KindInput) {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	if !analysis.IsKind(err, analysis.KindInput) {
		t.Fatalf("expected input error, got %v", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	data, err := EncodePNG(testImage(32, 32))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 32 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestNormalizeUpscalesSmallImages(t *testing.T) {
	n := Normalize(testImage(300, 200))
	if n.Width < minWidth || n.Height < minHeight {
		t.Fatalf("expected at least %dx%d, got %dx%d", minWidth, minHeight, n.Width, n.Height)
	}
	if n.Gray.Rect.Dx() != n.Width || n.Binary.Rect.Dx() != n.Width {
		t.Fatal("variant dimensions disagree")
	}
}

func TestNormalizeLeavesLargeImagesAlone(t *testing.T) {
	n := Normalize(testImage(1600, 1200))
	if n.Width != 1600 || n.Height != 1200 {
		t.Fatalf("expected 1600x1200, got %dx%d", n.Width, n.Height)
	}
}

func TestNormalizeBinaryIsTwoLevel(t *testing.T) {
	n := Normalize(testImage(1300, 1000))
	for _, p := range n.Binary.Pix {
		if p != 0 && p != 255 {
			t.Fatalf("binary image contains intermediate value %d", p)
		}
	}
}

func TestStretchContrastUsesFullRange(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(gray.Pix, []uint8{100, 120, 140, 160})
	stretchContrast(gray)
	if gray.Pix[0] != 0 || gray.Pix[3] != 255 {
		t.Fatalf("expected endpoints 0 and 255, got %v", gray.Pix)
	}
}

func TestStretchContrastFlatImageUnchanged(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 1))
	copy(gray.Pix, []uint8{90, 90, 90, 90})
	stretchContrast(gray)
	for _, p := range gray.Pix {
		if p != 90 {
			t.Fatalf("flat image changed: %v", gray.Pix)
		}
	}
}

func TestMeanIntensity(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	copy(gray.Pix, []uint8{0, 200})
	if got := MeanIntensity(gray); got != 100 {
		t.Fatalf("expected 100, got %f", got)
	}
}
