package image

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format identifies a raster image format handled by the transformer.
type Format string

const (
	FormatJPEG    Format = "JPEG"
	FormatPNG     Format = "PNG"
	FormatGIF     Format = "GIF"
	FormatBMP     Format = "BMP"
	FormatTIFF    Format = "TIFF"
	FormatWEBP    Format = "WEBP"
	FormatUnknown Format = "UNKNOWN"
)

// Magic prefixes for the supported raster formats.
var formatSignatures = map[Format][]byte{
	FormatJPEG: {0xFF, 0xD8},
	FormatPNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FormatGIF:  {0x47, 0x49, 0x46, 0x38},
	FormatBMP:  {0x42, 0x4D},
	FormatWEBP: {0x52, 0x49, 0x46, 0x46},
}

var tiffSignatures = [][]byte{
	{0x49, 0x49, 0x2A, 0x00}, // little endian
	{0x4D, 0x4D, 0x00, 0x2A}, // big endian
}

var extensionFormats = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".bmp":  FormatBMP,
	".tiff": FormatTIFF,
	".tif":  FormatTIFF,
	".webp": FormatWEBP,
}

// DetectFormat sniffs the format from magic bytes, falling back to the file
// extension when the payload does not match any known signature.
func DetectFormat(name string, data []byte) Format {
	for format, signature := range formatSignatures {
		if len(data) >= len(signature) && bytes.Equal(data[:len(signature)], signature) {
			if format == FormatWEBP {
				// RIFF containers carry a secondary WEBP tag.
				if len(data) < 12 || !bytes.Equal(data[8:12], []byte("WEBP")) {
					continue
				}
			}
			return format
		}
	}
	for _, signature := range tiffSignatures {
		if len(data) >= len(signature) && bytes.Equal(data[:len(signature)], signature) {
			return FormatTIFF
		}
	}
	if format, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]; ok {
		return format
	}
	return FormatUnknown
}

// HasImageExtension reports whether the file name carries a supported raster
// image extension. Archive members without one are not source entries.
func HasImageExtension(name string) bool {
	_, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]
	return ok
}

// pngHasAlpha inspects the PNG header and chunk list for an alpha channel.
// Color types 4 (grayscale+alpha) and 6 (truecolor+alpha) declare one in the
// IHDR; indexed and opaque images may still add transparency via a tRNS chunk.
func pngHasAlpha(data []byte) bool {
	// 8 signature + 8 IHDR chunk header + 9 offset to color type.
	if len(data) < 26 {
		return false
	}
	colorType := data[25]
	if colorType == 4 || colorType == 6 {
		return true
	}
	// Walk chunks looking for tRNS before IDAT.
	offset := 8
	for offset+8 <= len(data) {
		length := int(uint32(data[offset])<<24 | uint32(data[offset+1])<<16 |
			uint32(data[offset+2])<<8 | uint32(data[offset+3]))
		chunkType := string(data[offset+4 : offset+8])
		if chunkType == "tRNS" {
			return true
		}
		if chunkType == "IDAT" || chunkType == "IEND" {
			return false
		}
		offset += 8 + length + 4
	}
	return false
}
