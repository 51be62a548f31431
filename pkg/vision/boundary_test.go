package vision

import (
	"image"
	"image/color"
	"testing"
)

func TestDetectBoundaryFallsBackOnUniformImage(t *testing.T) {
	img := solidImage(200, 200, color.White)

	result := detectBoundary(img)

	if result.Box != img.Bounds() {
		t.Fatalf("expected the full image as fallback for a featureless image, got %v", result.Box)
	}
}

func TestDetectBoundaryFindsAHighContrastRectangle(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 280))
	for y := 0; y < 280; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.Black)
		}
	}
	for y := 20; y < 260; y++ {
		for x := 20; x < 180; x++ {
			img.Set(x, y, color.White)
		}
	}

	result := detectBoundary(img)

	if result.Box.Dx() <= 0 || result.Box.Dy() <= 0 {
		t.Fatalf("expected a non-empty detected box, got %v", result.Box)
	}
}
