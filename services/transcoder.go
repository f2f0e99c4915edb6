package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"runtime"

	"tryonapi/models"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInitialQuality = 0.8
	DefaultQualityStep    = 0.1
	DefaultMaxAttempts    = 5
)

// TranscodeResult is the JPEG produced by ImageTranscoder.
type TranscodeResult struct {
	Data     []byte
	Width    int
	Height   int
	Quality  float64
	Attempts int
	// Warning is set when the output fits MaxBytes but not TargetBytes.
	Warning bool
}

func (r *TranscodeResult) Part() models.ImagePart {
	return models.ImagePart{Data: r.Data, MimeType: models.MimeJPEG}
}

// ImageTranscoder resizes and re-encodes images to fit a TranscodeBudget.
type ImageTranscoder struct {
	InitialQuality float64
	QualityStep    float64
	MaxAttempts    int
}

func NewImageTranscoder() *ImageTranscoder {
	return &ImageTranscoder{
		InitialQuality: DefaultInitialQuality,
		QualityStep:    DefaultQualityStep,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

// ScaledDimensions returns the size that keeps the aspect ratio and makes the
// longer side equal maxDimension. Images already within bounds are unchanged.
func ScaledDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width >= height {
		scaled := int(math.Round(float64(maxDimension) * float64(height) / float64(width)))
		return maxDimension, max(scaled, 1)
	}
	scaled := int(math.Round(float64(maxDimension) * float64(width) / float64(height)))
	return max(scaled, 1), maxDimension
}

func encodingFailure(message string, err error) *models.TryOnError {
	return models.NewTryOnError(models.KindEncodingFailure, "", message, err)
}

// Transcode decodes asset, scales it down to budget.MaxDimension and encodes
// JPEG at decreasing quality until the output fits the budget.
func (t *ImageTranscoder) Transcode(ctx context.Context, asset models.ImageAsset, budget models.TranscodeBudget) (*TranscodeResult, error) {
	if err := budget.Validate(); err != nil {
		return nil, models.NewTryOnError(models.KindInvalidInput, "", "invalid transcode budget", err)
	}
	if len(asset.Data) == 0 {
		return nil, models.NewTryOnError(models.KindInvalidInput, "", "empty image", nil)
	}

	src, _, err := image.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, encodingFailure("failed to decode image", err)
	}
	bounds := src.Bounds()
	width, height := ScaledDimensions(bounds.Dx(), bounds.Dy(), budget.MaxDimension)

	var img image.Image = src
	if width != bounds.Dx() || height != bounds.Dy() {
		img = imaging.Resize(src, width, height, imaging.Lanczos)
	}
	img = flattenOnWhite(img)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	initial := t.InitialQuality
	if initial <= 0 || initial > 1 {
		initial = DefaultInitialQuality
	}
	step := t.QualityStep
	if step <= 0 {
		step = DefaultQualityStep
	}
	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var buf bytes.Buffer
	quality := initial
	attempt := 0
	for attempt < attempts {
		attempt++
		quality = math.Max(initial-step*float64(attempt-1), budget.MinQuality)

		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
			return nil, encodingFailure("failed to encode jpeg", err)
		}
		log.Debug().
			Int("attempt", attempt).
			Float64("quality", quality).
			Int("bytes", buf.Len()).
			Msg("transcode attempt")

		if buf.Len() <= budget.TargetBytes {
			return t.result(&buf, width, height, quality, attempt, false), nil
		}
		if quality <= budget.MinQuality {
			break
		}

		runtime.Gosched()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if buf.Len() <= budget.MaxBytes {
		log.Warn().
			Int("bytes", buf.Len()).
			Int("target_bytes", budget.TargetBytes).
			Float64("quality", quality).
			Msg("image exceeds target size at quality floor, accepting")
		return t.result(&buf, width, height, quality, attempt, true), nil
	}
	return nil, encodingFailure("image too large", nil)
}

func (t *ImageTranscoder) result(buf *bytes.Buffer, width, height int, quality float64, attempts int, warning bool) *TranscodeResult {
	return &TranscodeResult{
		Data:     bytes.Clone(buf.Bytes()),
		Width:    width,
		Height:   height,
		Quality:  quality,
		Attempts: attempts,
		Warning:  warning,
	}
}

func jpegQuality(q float64) int {
	return max(1, min(100, int(math.Round(q*100))))
}

// flattenOnWhite composites images with an alpha channel onto white.
func flattenOnWhite(img image.Image) image.Image {
	if !hasAlpha(img) {
		return img
	}
	bounds := img.Bounds()
	canvas := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	}
	if opaque, ok := img.(interface{ Opaque() bool }); ok {
		return !opaque.Opaque()
	}
	return true
}
