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

// Package vision implements the Vision Feature Extractor: it turns a raw
// image reference into a FeatureEnvelope, rejecting moderation and
// non-card content up front and running the four pixel-level analyses in
// parallel over the detected card boundary (spec.md §4.2).
package vision

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/objectstore"
)

// Extractor wires the Object Store Reader, label/OCR Detector, and
// moderation Moderator into the fixed pipeline of spec.md §4.2.
type Extractor struct {
	objects   objectstore.Reader
	detector  Detector
	moderator *Moderator
	logger    *logrus.Entry
}

// NewExtractor builds an Extractor.
func NewExtractor(objects objectstore.Reader, detector Detector, moderator *Moderator, logger *logrus.Logger) *Extractor {
	return &Extractor{
		objects:   objects,
		detector:  detector,
		moderator: moderator,
		logger:    logger.WithField("component", "vision"),
	}
}

// Extract runs the full pipeline (spec.md §4.2 steps 1-6) for a single
// image key. ownerID must match the key's uploads/{ownerId}/ prefix
// (spec.md §6 "Object keys"); a mismatch is refused before the object
// store is ever read, preventing a cross-tenant read through a forged key.
func (e *Extractor) Extract(ctx context.Context, ownerID, key string) (cardmodel.FeatureEnvelope, error) {
	entry := e.logger.WithField("object_key", key)

	if err := validateOwnerKey(ownerID, key); err != nil {
		entry.WithField("owner_id", ownerID).Warn("object key does not belong to requesting owner")
		return cardmodel.FeatureEnvelope{}, err
	}

	raw, err := e.objects.Get(ctx, key)
	if err != nil {
		return cardmodel.FeatureEnvelope{}, err
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return cardmodel.FeatureEnvelope{}, appErrors.Wrap(err, appErrors.ErrorTypeInvalidInput, "decoding image failed")
	}
	mimeType := mime.TypeByExtension("." + format)
	if mimeType == "" {
		mimeType = "image/" + format
	}

	labels, err := e.detector.DetectLabels(ctx, raw, mimeType)
	if err != nil {
		return cardmodel.FeatureEnvelope{}, err
	}

	blocked, notACard, err := e.moderator.Evaluate(ctx, labels)
	if err != nil {
		return cardmodel.FeatureEnvelope{}, err
	}
	if blocked {
		entry.Warn("image rejected by moderation policy")
		return cardmodel.FeatureEnvelope{}, appErrors.New(appErrors.ErrorTypeInvalidContent, "image rejected by content moderation")
	}
	if notACard {
		entry.Warn("image rejected as non-card content")
		return cardmodel.FeatureEnvelope{}, appErrors.New(appErrors.ErrorTypeInvalidContent, "image does not depict a trading card")
	}

	boundary := detectBoundary(img)
	if boundary.Warning {
		entry.Warn("card boundary aspect ratio outside the expected range")
	}

	ocrBlocks, err := e.detector.DetectText(ctx, raw, mimeType)
	if err != nil {
		return cardmodel.FeatureEnvelope{}, err
	}

	borders, holoVariance, font, quality, err := extractFeatures(ctx, img, boundary.Box, labels, ocrBlocks)
	if err != nil {
		return cardmodel.FeatureEnvelope{}, err
	}

	bounds := img.Bounds()
	envelope := cardmodel.FeatureEnvelope{
		OCRBlocks:    ocrBlocks,
		Borders:      borders,
		HoloVariance: holoVariance,
		Font:         font,
		Quality:      quality,
		Metadata: cardmodel.ImageMetadata{
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			Format:    format,
			SizeBytes: int64(len(raw)),
		},
	}
	if err := envelope.Validate(); err != nil {
		return cardmodel.FeatureEnvelope{}, appErrors.Wrap(err, appErrors.ErrorTypeSchemaViolation, "feature envelope failed validation")
	}
	return envelope, nil
}

// ExtractPair runs Extract independently for the front key and, when
// backKey is non-empty, the back key too; the two envelopes never merge
// (spec.md §4.2 "Back-image processing").
func (e *Extractor) ExtractPair(ctx context.Context, ownerID, frontKey, backKey string) (front, back cardmodel.FeatureEnvelope, err error) {
	front, err = e.Extract(ctx, ownerID, frontKey)
	if err != nil {
		return front, back, err
	}
	if backKey == "" {
		return front, back, nil
	}
	back, err = e.Extract(ctx, ownerID, backKey)
	if err != nil {
		return front, back, err
	}
	return front, back, nil
}

// validateOwnerKey enforces spec.md §6's uploads/{ownerId}/ object-key
// prefix convention: a key for a different owner is refused before any
// object-store read, independent of pkg/store's record-ownership check.
func validateOwnerKey(ownerID, key string) error {
	prefix := "uploads/" + ownerID + "/"
	if !strings.HasPrefix(key, prefix) {
		return appErrors.New(appErrors.ErrorTypeValidation, "object key does not belong to the requesting owner")
	}
	return nil
}
