package image

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	xwebp "golang.org/x/image/webp"

	platformerrors "imgopt-server-go/internal/platform/errors"
)

// Options controls how a single batch transforms its images. Immutable for
// the lifetime of a job.
type Options struct {
	JPEGQuality      int  `json:"jpeg_quality"`
	ConvertPNGToJPEG bool `json:"convert_png_to_jpeg"`
	MaxWidth         int  `json:"max_width,omitempty"`
	MaxHeight        int  `json:"max_height,omitempty"`
}

// Validate rejects out-of-range settings. Quality violations are rejections,
// never clamped.
func (o Options) Validate() error {
	if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
		return platformerrors.New(
			platformerrors.KindValidation,
			"options.validate",
			fmt.Sprintf("jpeg quality must be within [1,100], got %d", o.JPEGQuality),
		)
	}
	if o.MaxWidth < 0 || o.MaxHeight < 0 {
		return platformerrors.New(
			platformerrors.KindValidation,
			"options.validate",
			"max dimensions must not be negative",
		)
	}
	return nil
}

// Status classifies the outcome of one transformation.
type Status string

const (
	StatusOptimized Status = "optimized"
	StatusConverted Status = "converted"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// Result describes what happened to a single archive member.
type Result struct {
	Name             string  `json:"file_name"`
	OutputName       string  `json:"output_name"`
	OriginalSize     int64   `json:"original_size"`
	OptimizedSize    int64   `json:"optimized_size"`
	SavingPercentage float64 `json:"saving_percentage"`
	Status           Status  `json:"status"`
	ErrorDetail      string  `json:"error,omitempty"`
}

// Transform recompresses one image. It is a pure function: the returned bytes
// are the payload for the output archive and the Result captures the metrics.
// Failures never lose data, the original bytes are passed through unchanged.
func Transform(name string, data []byte, format Format, opts Options) ([]byte, Result) {
	switch format {
	case FormatJPEG:
		return transformJPEG(name, data, opts)
	case FormatPNG:
		return transformPNG(name, data, opts)
	case FormatGIF:
		return transformGIF(name, data)
	case FormatBMP:
		return reencode(name, data, opts, func(buf *bytes.Buffer, img image.Image) error {
			return bmp.Encode(buf, img)
		})
	case FormatTIFF:
		return reencode(name, data, opts, func(buf *bytes.Buffer, img image.Image) error {
			return tiff.Encode(buf, img, &tiff.Options{Compression: tiff.Deflate})
		})
	case FormatWEBP:
		return transformWEBP(name, data, opts)
	default:
		return data, errorResult(name, data, "unknown image format")
	}
}

func transformJPEG(name string, data []byte, opts Options) ([]byte, Result) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data, errorResult(name, data, fmt.Sprintf("decode jpeg: %v", err))
	}
	img = downscale(img, opts)

	var buf bytes.Buffer
	// Re-encoding drops metadata blocks along the way.
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return data, skippedResult(name, data, fmt.Sprintf("encode jpeg: %v", err))
	}
	return buf.Bytes(), successResult(name, name, data, buf.Bytes(), StatusOptimized)
}

func transformPNG(name string, data []byte, opts Options) ([]byte, Result) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return data, errorResult(name, data, fmt.Sprintf("decode png: %v", err))
	}
	img = downscale(img, opts)

	// Alpha channel presence alone gates conversion, regardless of whether
	// every pixel happens to be opaque.
	if opts.ConvertPNGToJPEG && !pngHasAlpha(data) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.JPEGQuality}); err == nil {
			outName := swapExtension(name, ".jpg")
			return buf.Bytes(), successResult(name, outName, data, buf.Bytes(), StatusConverted)
		}
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return data, skippedResult(name, data, fmt.Sprintf("encode png: %v", err))
	}
	return buf.Bytes(), successResult(name, name, data, buf.Bytes(), StatusOptimized)
}

func transformGIF(name string, data []byte) ([]byte, Result) {
	// DecodeAll keeps animation frames intact; GIFs are never resized.
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return data, errorResult(name, data, fmt.Sprintf("decode gif: %v", err))
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return data, skippedResult(name, data, fmt.Sprintf("encode gif: %v", err))
	}
	return buf.Bytes(), successResult(name, name, data, buf.Bytes(), StatusOptimized)
}

func transformWEBP(name string, data []byte, opts Options) ([]byte, Result) {
	img, err := xwebp.Decode(bytes.NewReader(data))
	if err != nil {
		return data, errorResult(name, data, fmt.Sprintf("decode webp: %v", err))
	}
	img = downscale(img, opts)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return data, skippedResult(name, data, fmt.Sprintf("encode webp: %v", err))
	}
	return buf.Bytes(), successResult(name, name, data, buf.Bytes(), StatusOptimized)
}

type encodeFunc func(*bytes.Buffer, image.Image) error

func reencode(name string, data []byte, opts Options, encode encodeFunc) ([]byte, Result) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, errorResult(name, data, fmt.Sprintf("decode image: %v", err))
	}
	img = downscale(img, opts)

	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		return data, skippedResult(name, data, fmt.Sprintf("encode image: %v", err))
	}
	return buf.Bytes(), successResult(name, name, data, buf.Bytes(), StatusOptimized)
}

// downscale fits the image inside the configured bounding box, keeping the
// aspect ratio. Zero bounds disable resizing.
func downscale(img image.Image, opts Options) image.Image {
	if opts.MaxWidth <= 0 && opts.MaxHeight <= 0 {
		return img
	}
	maxW := opts.MaxWidth
	maxH := opts.MaxHeight
	if maxW <= 0 {
		maxW = img.Bounds().Dx()
	}
	if maxH <= 0 {
		maxH = img.Bounds().Dy()
	}
	if img.Bounds().Dx() <= maxW && img.Bounds().Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}

func swapExtension(name, ext string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[:idx] + ext
	}
	return name + ext
}

func successResult(name, outName string, original, optimized []byte, status Status) Result {
	return Result{
		Name:             name,
		OutputName:       outName,
		OriginalSize:     int64(len(original)),
		OptimizedSize:    int64(len(optimized)),
		SavingPercentage: savingPercentage(len(original), len(optimized)),
		Status:           status,
	}
}

func skippedResult(name string, data []byte, detail string) Result {
	return Result{
		Name:          name,
		OutputName:    name,
		OriginalSize:  int64(len(data)),
		OptimizedSize: int64(len(data)),
		Status:        StatusSkipped,
		ErrorDetail:   detail,
	}
}

func errorResult(name string, data []byte, detail string) Result {
	return Result{
		Name:          name,
		OutputName:    name,
		OriginalSize:  int64(len(data)),
		OptimizedSize: int64(len(data)),
		Status:        StatusError,
		ErrorDetail:   detail,
	}
}

func savingPercentage(original, optimized int) float64 {
	if original == 0 {
		return 0
	}
	return float64(original-optimized) / float64(original) * 100
}
