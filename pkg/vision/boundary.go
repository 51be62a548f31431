/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vision

import (
	"image"
	"math"
)

// gradientThreshold is the fixed Sobel magnitude cutoff on a 0-255 grayscale
// image (spec.md §4.2 step 4 design value).
const gradientThreshold = 30.0

// boundaryResult carries the detected crop box plus whether its aspect
// ratio warrants a warning, without failing the pipeline.
type boundaryResult struct {
	Box     image.Rectangle
	Warning bool
}

// detectBoundary locates the card's bounding box via Sobel-style gradient
// thresholding, padding 5% on each side, and falls back to the full image
// when the edge density or aspect ratio falls outside the accepted range
// (spec.md §4.2 step 4).
func detectBoundary(img image.Image) boundaryResult {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return boundaryResult{Box: bounds}
	}

	gray := toGrayscale(img)
	minX, minY, maxX, maxY := w, h, -1, -1
	edgePixels := 0

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -gray[y-1][x-1] - 2*gray[y][x-1] - gray[y+1][x-1] +
				gray[y-1][x+1] + 2*gray[y][x+1] + gray[y+1][x+1]
			gy := -gray[y-1][x-1] - 2*gray[y-1][x] - gray[y-1][x+1] +
				gray[y+1][x-1] + 2*gray[y+1][x] + gray[y+1][x+1]
			magnitude := math.Sqrt(gx*gx + gy*gy)
			if magnitude > gradientThreshold {
				edgePixels++
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if maxX < minX || maxY < minY {
		return boundaryResult{Box: bounds}
	}

	edgeDensity := float64(edgePixels) / float64(w*h)
	if edgeDensity < 0.01 || edgeDensity > 0.5 {
		return boundaryResult{Box: bounds}
	}

	boxW, boxH := maxX-minX+1, maxY-minY+1
	aspect := float64(boxW) / float64(boxH)
	if aspect < 0.5 || aspect > 1.0 {
		return boundaryResult{Box: bounds}
	}
	warning := aspect < 0.65 || aspect > 0.80

	padX := int(float64(boxW) * 0.05)
	padY := int(float64(boxH) * 0.05)
	padded := image.Rect(
		clamp(minX-padX, bounds.Min.X, bounds.Max.X),
		clamp(minY-padY, bounds.Min.Y, bounds.Max.Y),
		clamp(maxX+1+padX, bounds.Min.X, bounds.Max.X),
		clamp(maxY+1+padY, bounds.Min.Y, bounds.Max.Y),
	)
	return boundaryResult{Box: padded, Warning: warning}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toGrayscale returns per-pixel luminance in [0,255] as a dense 2D slice,
// indexed [y][x] relative to img's bounds.
func toGrayscale(img image.Image) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := make([][]float64, h)
	for y := 0; y < h; y++ {
		gray[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA() returns 16-bit channels; scale to 8-bit luminance.
			gray[y][x] = (0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8))
		}
	}
	return gray
}
