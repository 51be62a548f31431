package authenticity

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPerceptualHashIsStableForIdenticalImages(t *testing.T) {
	a := solidImage(64, 64, color.RGBA{R: 120, G: 80, B: 40, A: 255})
	b := solidImage(64, 64, color.RGBA{R: 120, G: 80, B: 40, A: 255})

	ha := PerceptualHash(a)
	hb := PerceptualHash(b)

	if HammingDistance(ha, hb) != 0 {
		t.Fatalf("expected identical images to hash identically, distance=%d", HammingDistance(ha, hb))
	}
}

func TestPerceptualHashDiffersForDifferentImages(t *testing.T) {
	checkerboard := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/8+y/8)%2 == 0 {
				checkerboard.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				checkerboard.Set(x, y, color.RGBA{R: 0, G: 0, B: 0, A: 255})
			}
		}
	}
	solid := solidImage(64, 64, color.RGBA{R: 128, G: 128, B: 128, A: 255})

	h1 := PerceptualHash(checkerboard)
	h2 := PerceptualHash(solid)

	if HammingDistance(h1, h2) == 0 {
		t.Fatal("expected a high-contrast checkerboard to hash differently from a flat image")
	}
}

func TestHammingDistanceOfEqualHashesIsZero(t *testing.T) {
	if HammingDistance(0xFFFF, 0xFFFF) != 0 {
		t.Fatal("expected equal hashes to have zero hamming distance")
	}
	if HammingDistance(0, 0xFFFFFFFFFFFFFFFF) != 64 {
		t.Fatal("expected fully inverted hashes to differ in all 64 bits")
	}
}
