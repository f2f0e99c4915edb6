package models

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const MimeJPEG = "image/jpeg"
const MimePNG = "image/png"

// ImageAsset is an encoded image together with its pixel dimensions.
type ImageAsset struct {
	Data     []byte
	Width    int
	Height   int
	MimeType string
}

// EstimatedDecodedBytes is the in-memory size of the asset once decoded to RGBA.
func (a ImageAsset) EstimatedDecodedBytes() int64 {
	return int64(a.Width) * int64(a.Height) * 4
}

// ReadImageAsset reads only the image header to fill in dimensions and mime type.
func ReadImageAsset(data []byte) (*ImageAsset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	return &ImageAsset{
		Data:     data,
		Width:    cfg.Width,
		Height:   cfg.Height,
		MimeType: "image/" + format,
	}, nil
}

// TranscodeBudget bounds the output of the client-side transcoder.
type TranscodeBudget struct {
	MaxDimension int
	TargetBytes  int
	MaxBytes     int
	MinQuality   float64
}

func DefaultTranscodeBudget() TranscodeBudget {
	return TranscodeBudget{
		MaxDimension: 1024,
		TargetBytes:  1 << 20,
		MaxBytes:     2 << 20,
		MinQuality:   0.4,
	}
}

func (b TranscodeBudget) Validate() error {
	if b.MaxDimension <= 0 {
		return fmt.Errorf("max dimension must be positive, got %d", b.MaxDimension)
	}
	if b.TargetBytes <= 0 || b.TargetBytes > b.MaxBytes {
		return fmt.Errorf("target bytes %d must be positive and not exceed max bytes %d", b.TargetBytes, b.MaxBytes)
	}
	if b.MinQuality <= 0 || b.MinQuality > 1 {
		return fmt.Errorf("min quality must be in (0, 1], got %v", b.MinQuality)
	}
	return nil
}
