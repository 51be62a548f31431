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

// Package authenticity implements the Authenticity Agent (spec.md §4.5): a
// weighted composite of a perceptual-hash match, OCR field-confidence
// agreement, holo-pattern consistency, border symmetry, and font-size
// consistency, with an optional LLM rationale.
package authenticity

import (
	"image"
	"math/bits"

	stdmath "math"
)

// sampleSize is the DCT-reduced grayscale grid edge length (spec.md §4.5:
// "64-bit perceptual hash (DCT of 32×32 grayscale...)"). The low-frequency
// 8x8 corner of the 32x32 DCT yields the 64-bit hash.
const (
	sampleSize = 32
	hashBits   = 8
)

// PerceptualHash computes a 64-bit perceptual hash of img via a DCT of a
// 32x32 grayscale downsample, thresholded against the mean of the
// low-frequency 8x8 coefficient block (spec.md §4.5 visualHash signal).
func PerceptualHash(img image.Image) uint64 {
	gray := downsampleGrayscale(img, sampleSize)
	dct := dct2D(gray)

	coeffs := make([]float64, 0, hashBits*hashBits)
	for y := 0; y < hashBits; y++ {
		for x := 0; x < hashBits; x++ {
			coeffs = append(coeffs, dct[y][x])
		}
	}
	// The DC term (top-left) dominates magnitude and carries no
	// discriminative information; excluding it from the mean is the
	// standard pHash refinement.
	mean := meanExcludingFirst(coeffs)

	var hash uint64
	for i, c := range coeffs {
		if c > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// HammingDistance returns the number of differing bits between two hashes.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func meanExcludingFirst(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var sum float64
	for _, v := range values[1:] {
		sum += v
	}
	return sum / float64(len(values)-1)
}

func downsampleGrayscale(img image.Image, size int) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([][]float64, size)
	for y := 0; y < size; y++ {
		out[y] = make([]float64, size)
		for x := 0; x < size; x++ {
			srcX := bounds.Min.X + x*w/size
			srcY := bounds.Min.Y + y*h/size
			r, g, b, _ := img.At(srcX, srcY).RGBA()
			out[y][x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return out
}

// dct2D returns the 2D type-II discrete cosine transform of a square
// grayscale grid.
func dct2D(grid [][]float64) [][]float64 {
	n := len(grid)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			var sum float64
			for x := 0; x < n; x++ {
				for y := 0; y < n; y++ {
					sum += grid[x][y] *
						stdmath.Cos((2*float64(x)+1)*float64(u)*stdmath.Pi/(2*float64(n))) *
						stdmath.Cos((2*float64(y)+1)*float64(v)*stdmath.Pi/(2*float64(n)))
				}
			}
			cu := alpha(u, n)
			cv := alpha(v, n)
			out[u][v] = 0.25 * cu * cv * sum
		}
	}
	return out
}

func alpha(u, n int) float64 {
	if u == 0 {
		return 1 / stdmath.Sqrt2
	}
	return 1
}
