package processing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/vision-studio/internal/utils"
	"github.com/menta2k/vision-studio/pkg/types"
)

const (
	// TargetWidth is the width every upload is resized to before analysis
	TargetWidth = 1024
	// DefaultMaxBytes caps the size of an upload
	DefaultMaxBytes = 20 << 20
)

// DefaultFormats are the accepted upload formats
var DefaultFormats = []string{"jpg", "jpeg", "png"}

// Processor handles image processing operations
type Processor struct {
	formats  []string
	maxBytes int64
}

// NewProcessor creates a new image processor accepting formats (file
// extensions) up to maxBytes. Zero values select the defaults.
func NewProcessor(formats []string, maxBytes int64) *Processor {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Processor{formats: formats, maxBytes: maxBytes}
}

// LoadUpload spools r into a temporary file and decodes it. The temp file is
// removed before returning on every path.
func (p *Processor) LoadUpload(r io.Reader, filename string) (image.Image, error) {
	if filename != "" && !utils.IsImageFile(filename, p.formats...) {
		return nil, &types.InputError{Reason: fmt.Sprintf("unsupported file type %q (accepted: %s)", utils.GetFileExtension(filename), strings.Join(p.formats, ", "))}
	}

	f, err := os.CreateTemp("", "vision-upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if n > p.maxBytes {
		return nil, &types.InputError{Reason: fmt.Sprintf("image larger than %s", utils.FormatFileSize(p.maxBytes))}
	}
	if n == 0 {
		return nil, &types.InputError{Reason: "empty upload"}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	return p.decode(f)
}

// LoadImage loads an image from a file path
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if !utils.FileExists(path) {
		return nil, &types.InputError{Reason: fmt.Sprintf("file not found: %s", path)}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.decode(f)
}

// decode sniffs the real format before decoding so a renamed file of another
// type is still rejected. EXIF orientation is applied.
func (p *Processor) decode(rs io.ReadSeeker) (image.Image, error) {
	_, format, err := image.DecodeConfig(rs)
	if err != nil {
		return nil, &types.InputError{Reason: "not a JPEG or PNG image"}
	}
	if !p.accepts(format) {
		return nil, &types.InputError{Reason: fmt.Sprintf("unsupported image format %q", format)}
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(rs, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &types.InputError{Reason: fmt.Sprintf("failed to decode %s image: %v", format, err)}
	}
	return img, nil
}

func (p *Processor) accepts(format string) bool {
	for _, f := range p.formats {
		f = strings.ToLower(f)
		if f == "jpg" {
			f = "jpeg"
		}
		if f == format {
			return true
		}
	}
	return false
}

// ResizeToWidth scales img to width preserving aspect ratio. The result is
// always a fresh NRGBA that can be drawn on.
func ResizeToWidth(img image.Image, width int) *image.NRGBA {
	if width <= 0 || img.Bounds().Dx() == width {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

// EncodeForModel encodes img as JPEG for sending to vision models and
// returns the bytes with their MIME type
func EncodeForModel(img image.Image, quality int) ([]byte, string, error) {
	if quality < 1 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// Encode writes img to w in format (png, jpg/jpeg or webp)
func Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "png", "":
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		return enc.Encode(w, img)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// ContentType returns the MIME type for an output format
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "webp":
		return "image/webp"
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// SaveImage saves an image to a file with the specified format and quality
func SaveImage(img image.Image, path, format string, quality int, lossless bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return Encode(f, img, format, quality, lossless)
}
