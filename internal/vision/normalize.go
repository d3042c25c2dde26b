package vision

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/mediscan/backend/internal/analysis"
)

// Target working resolution. Smaller inputs are upscaled so OCR has enough
// detail; larger inputs are left alone.
const (
	minWidth  = 1200
	minHeight = 900
)

// Normalized is the canonical preprocessed form consumed by every
// downstream stage. It is read-only once produced; the text and image
// paths may share it concurrently.
type Normalized struct {
	// Gray is the denoised, contrast-stretched grayscale image.
	Gray *image.Gray

	// Binary is a thresholded variant of Gray, used by the printed-text
	// OCR engine.
	Binary *image.Gray

	// RGB keeps the (possibly resized) color image for heatmap overlays.
	RGB *image.NRGBA

	Width  int
	Height int
}

// Decode parses raw image bytes. PNG, JPEG and GIF are accepted.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, analysis.NewError(analysis.KindInput, "empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, analysis.WrapError(analysis.KindInput, err, "failed to decode image")
	}
	return img, nil
}

// Normalize preprocesses a decoded image: upscale to working resolution,
// grayscale, median denoise, stretch contrast, and binarize.
func Normalize(img image.Image) *Normalized {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w < minWidth || h < minHeight {
		scaleW := float64(minWidth) / float64(w)
		scaleH := float64(minHeight) / float64(h)
		scale := scaleW
		if scaleH > scale {
			scale = scaleH
		}
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	rgb := imaging.Clone(img)
	denoised := effect.Median(img, 3)
	gray := toGray(denoised)
	stretchContrast(gray)
	binary := binarize(gray)

	return &Normalized{
		Gray:   gray,
		Binary: binary,
		RGB:    rgb,
		Width:  w,
		Height: h,
	}
}

// EncodePNG renders an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return gray
}

// stretchContrast rescales pixel intensities to the full [0,255] range
// in place, which evens out lighting variation between scans.
func stretchContrast(gray *image.Gray) {
	min, max := uint8(255), uint8(0)
	for _, p := range gray.Pix {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	if max <= min {
		return
	}
	span := float64(max - min)
	for i, p := range gray.Pix {
		gray.Pix[i] = uint8(float64(p-min) / span * 255.0)
	}
}

// binarize thresholds at the mean intensity, giving the printed-text
// engine clean black-on-white input.
func binarize(gray *image.Gray) *image.Gray {
	var sum uint64
	for _, p := range gray.Pix {
		sum += uint64(p)
	}
	threshold := uint8(sum / uint64(len(gray.Pix)))

	out := image.NewGray(gray.Rect)
	for i, p := range gray.Pix {
		if p > threshold {
			out.Pix[i] = 255
		} else {
			out.Pix[i] = 0
		}
	}
	return out
}

// MeanIntensity returns the average pixel value of a grayscale image,
// used by tests and the classifier's exposure features.
func MeanIntensity(gray *image.Gray) float64 {
	if len(gray.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, p := range gray.Pix {
		sum += uint64(p)
	}
	return float64(sum) / float64(len(gray.Pix))
}
