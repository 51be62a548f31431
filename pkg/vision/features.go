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
	"context"
	"image"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
	sharedmath "github.com/jordigilh/cardvault/pkg/shared/math"
)

// holoLabelConfidence is the minimum confidence at which a
// reflective/metallic/shiny/glossy label counts as "detected" for
// holoVariance purposes (spec.md §4.2 step 5 names no threshold for this
// gate). It is separate from the moderation policy's label cutoffs of 0.6
// (blocklist), 0.8 (non-card) and 0.7 (card).
const holoLabelConfidence = 0.5

// extractFeatures runs the four independent pixel/OCR analyses of spec.md
// §4.2 step 5 concurrently over the cropped region, bounded to the four
// analyses themselves (no further fan-out is needed).
func extractFeatures(ctx context.Context, img image.Image, box image.Rectangle, labels []Label, ocrBlocks []cardmodel.OCRBlock) (cardmodel.BorderMetrics, float64, cardmodel.FontMetrics, cardmodel.ImageQuality, error) {
	var (
		borders      cardmodel.BorderMetrics
		holoVariance float64
		font         cardmodel.FontMetrics
		quality      cardmodel.ImageQuality
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		borders = borderMetrics(img, box)
		return gctx.Err()
	})
	g.Go(func() error {
		holoVariance = holoVarianceScore(img, box, labels)
		return gctx.Err()
	})
	g.Go(func() error {
		font = fontMetrics(ocrBlocks)
		return gctx.Err()
	})
	g.Go(func() error {
		quality = imageQuality(img, box)
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return borders, holoVariance, font, quality, err
	}
	return borders, holoVariance, font, quality, nil
}

// borderMetrics averages brightness over four 5%-thick border bands
// (spec.md §4.2 step 5).
func borderMetrics(img image.Image, box image.Rectangle) cardmodel.BorderMetrics {
	w, h := box.Dx(), box.Dy()
	bandW := maxInt(1, int(float64(w)*0.05))
	bandH := maxInt(1, int(float64(h)*0.05))

	top := bandBrightness(img, image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+bandH))
	bottom := bandBrightness(img, image.Rect(box.Min.X, box.Max.Y-bandH, box.Max.X, box.Max.Y))
	left := bandBrightness(img, image.Rect(box.Min.X, box.Min.Y, box.Min.X+bandW, box.Max.Y))
	right := bandBrightness(img, image.Rect(box.Max.X-bandW, box.Min.Y, box.Max.X, box.Max.Y))

	symmetry := 1 - ((absFloat(top-bottom) + absFloat(left-right)) / 2)
	return cardmodel.BorderMetrics{
		TopBrightness:    top,
		BottomBrightness: bottom,
		LeftBrightness:   left,
		RightBrightness:  right,
		SymmetryScore:    sharedmath.Clip(symmetry, 0, 1),
	}
}

func bandBrightness(img image.Image, band image.Rectangle) float64 {
	var sum float64
	var n int
	for y := band.Min.Y; y < band.Max.Y; y++ {
		for x := band.Min.X; x < band.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return (sum / float64(n)) / 255
}

// holoVarianceScore samples the central 50% of the box every 5th pixel and
// returns the clipped average per-channel RGB variance, or 0 when no
// reflective/metallic/shiny/glossy label was detected (spec.md §4.2 step 5).
func holoVarianceScore(img image.Image, box image.Rectangle, labels []Label) float64 {
	if !hasHoloLabel(labels) {
		return 0
	}

	w, h := box.Dx(), box.Dy()
	cx0, cy0 := box.Min.X+w/4, box.Min.Y+h/4
	cx1, cy1 := box.Max.X-w/4, box.Max.Y-h/4

	var reds, greens, blues []float64
	for y := cy0; y < cy1; y += 5 {
		for x := cx0; x < cx1; x += 5 {
			r, g, b, _ := img.At(x, y).RGBA()
			reds = append(reds, float64(r>>8))
			greens = append(greens, float64(g>>8))
			blues = append(blues, float64(b>>8))
		}
	}
	if len(reds) == 0 {
		return 0
	}

	avg := (sharedmath.Variance(reds) + sharedmath.Variance(greens) + sharedmath.Variance(blues)) / 3
	return sharedmath.Clip(avg/10000, 0, 1)
}

func hasHoloLabel(labels []Label) bool {
	holo := map[string]bool{"reflective": true, "metallic": true, "shiny": true, "glossy": true}
	for _, l := range labels {
		if holo[strings.ToLower(l.Name)] && l.Confidence >= holoLabelConfidence {
			return true
		}
	}
	return false
}

// fontMetrics derives inter-word kerning, edge alignment, and font-size
// variance from OCR blocks (spec.md §4.2 step 5).
func fontMetrics(blocks []cardmodel.OCRBlock) cardmodel.FontMetrics {
	words := make([]cardmodel.OCRBlock, 0, len(blocks))
	lines := make([]cardmodel.OCRBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case cardmodel.BlockTypeWord:
			words = append(words, b)
		case cardmodel.BlockTypeLine:
			lines = append(lines, b)
		}
	}

	sort.Slice(words, func(i, j int) bool { return words[i].Box.Left < words[j].Box.Left })
	kerning := make([]float64, 0, maxInt(0, len(words)-1))
	for i := 1; i < len(words); i++ {
		gap := words[i].Box.Left - (words[i-1].Box.Left + words[i-1].Box.Width)
		kerning = append(kerning, gap)
	}

	source := lines
	if len(source) == 0 {
		source = words
	}
	lefts := make([]float64, 0, len(source))
	rights := make([]float64, 0, len(source))
	heights := make([]float64, 0, len(source))
	for _, b := range source {
		lefts = append(lefts, b.Box.Left)
		rights = append(rights, b.Box.Left+b.Box.Width)
		heights = append(heights, b.Box.Height)
	}

	alignment := 0.0
	if len(lefts) > 0 {
		alignment = sharedmath.Clip(1-(sharedmath.Variance(lefts)+sharedmath.Variance(rights))/2*100, 0, 1)
	}

	sizeVariance := 0.0
	if len(heights) > 0 {
		sizeVariance = sharedmath.Variance(heights)
	}

	return cardmodel.FontMetrics{
		Kerning:        kerning,
		AlignmentScore: alignment,
		SizeVariance:   sizeVariance,
	}
}

// imageQuality computes blur, glare, and brightness over box (spec.md §4.2
// step 5).
func imageQuality(img image.Image, box image.Rectangle) cardmodel.ImageQuality {
	var samples []float64
	var overBright int

	for y := box.Min.Y; y < box.Max.Y; y += 3 {
		for x := box.Min.X; x < box.Max.X; x += 3 {
			r, g, b, _ := img.At(x, y).RGBA()
			brightness := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			samples = append(samples, brightness)
			if brightness > 240 {
				overBright++
			}
		}
	}
	if len(samples) == 0 {
		return cardmodel.ImageQuality{}
	}

	blur := sharedmath.Clip(sharedmath.StandardDeviation(samples)/100, 0, 1)
	glare := float64(overBright)/float64(len(samples)) > 0.15
	brightness := sharedmath.Mean(samples) / 255

	return cardmodel.ImageQuality{
		Blur:          blur,
		GlareDetected: glare,
		Brightness:    sharedmath.Clip(brightness, 0, 1),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
