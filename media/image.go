// Package media prepares camera frames for the detector.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif" // Register GIF decoder
	_ "image/png" // Register PNG decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// MIMETypeJPEG is the type of every encoded frame.
const MIMETypeJPEG = "image/jpeg"

// Detection frame defaults.
const (
	DetectionWidth   = 512
	DetectionQuality = 70
	MinQuality       = 10
	MaxQuality       = 100
)

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image data")

// ScaleConfig configures frame downscaling.
type ScaleConfig struct {
	// Width is the target width in pixels. Narrower frames are not enlarged.
	Width int
	// Quality is the JPEG quality (1-100).
	Quality int
}

// DetectionScaleConfig returns the configuration used for detector frames.
func DetectionScaleConfig() ScaleConfig {
	return ScaleConfig{Width: DetectionWidth, Quality: DetectionQuality}
}

// ScaledFrame is an encoded, possibly downscaled frame.
type ScaledFrame struct {
	Data           []byte
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
}

// Scale decodes data (JPEG, PNG, GIF or WebP), downscales it to cfg.Width
// keeping the aspect ratio, and re-encodes it as JPEG.
func Scale(data []byte, cfg ScaleConfig) (*ScaledFrame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := targetSize(bounds.Dx(), bounds.Dy(), cfg.Width)
	if width != bounds.Dx() || height != bounds.Dy() {
		img = resize(img, width, height)
	}

	encoded, err := EncodeJPEG(img, cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return &ScaledFrame{
		Data:           encoded,
		Width:          width,
		Height:         height,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}, nil
}

// PrepareForDetection scales a frame with DetectionScaleConfig.
func PrepareForDetection(data []byte) ([]byte, error) {
	frame, err := Scale(data, DetectionScaleConfig())
	if err != nil {
		return nil, err
	}
	return frame.Data, nil
}

// targetSize fits width into maxWidth, preserving the aspect ratio.
func targetSize(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth {
		return width, height
	}
	h := int(float64(height) * float64(maxWidth) / float64(width))
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

func resize(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// EncodeJPEG encodes img at quality, clamped to [MinQuality, MaxQuality].
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	switch {
	case quality <= 0:
		quality = DetectionQuality
	case quality < MinQuality:
		quality = MinQuality
	case quality > MaxQuality:
		quality = MaxQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
