package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestBorderMetricsOnUniformImage(t *testing.T) {
	img := solidImage(100, 100, color.White)
	box := img.Bounds()

	metrics := borderMetrics(img, box)

	if metrics.TopBrightness != 1 || metrics.BottomBrightness != 1 {
		t.Fatalf("expected full brightness on a white image, got %+v", metrics)
	}
	if metrics.SymmetryScore != 1 {
		t.Fatalf("expected perfect symmetry on a uniform image, got %v", metrics.SymmetryScore)
	}
}

func TestHoloVarianceScoreWithoutHoloLabel(t *testing.T) {
	img := solidImage(40, 40, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	box := img.Bounds()

	score := holoVarianceScore(img, box, []Label{{Name: "card", Confidence: 0.9}})

	if score != 0 {
		t.Fatalf("expected 0 holoVariance with no holo label, got %v", score)
	}
}

func TestHoloVarianceScoreIsClippedToOne(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}

	score := holoVarianceScore(img, img.Bounds(), []Label{{Name: "shiny", Confidence: 0.9}})

	if score < 0 || score > 1 {
		t.Fatalf("holoVariance must stay within [0,1], got %v", score)
	}
}

func TestFontMetricsKerningOrdering(t *testing.T) {
	blocks := []cardmodel.OCRBlock{
		{Text: "A", Type: cardmodel.BlockTypeWord, Box: cardmodel.BoundingBox{Left: 0.5, Top: 0.1, Width: 0.1, Height: 0.05}},
		{Text: "B", Type: cardmodel.BlockTypeWord, Box: cardmodel.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.1, Height: 0.05}},
	}

	metrics := fontMetrics(blocks)

	if len(metrics.Kerning) != 1 {
		t.Fatalf("expected exactly one kerning gap for two words, got %d", len(metrics.Kerning))
	}
	if metrics.Kerning[0] <= 0 {
		t.Fatalf("expected a positive gap between the sorted words, got %v", metrics.Kerning[0])
	}
}

func TestImageQualityDetectsGlare(t *testing.T) {
	img := solidImage(30, 30, color.RGBA{R: 250, G: 250, B: 250, A: 255})

	quality := imageQuality(img, img.Bounds())

	if !quality.GlareDetected {
		t.Fatal("expected glare to be detected on a near-white image")
	}
	if quality.Brightness < 0.9 {
		t.Fatalf("expected high brightness, got %v", quality.Brightness)
	}
}
