package imaging

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// Prober reads image dimensions without decoding pixel data.
type Prober struct{}

// Dimensions returns the natural width and height of the image at path.
func (Prober) Dimensions(ctx context.Context, path string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Cropper cuts a region out of an image and encodes it by the output
// file's extension (png, jpeg or gif).
type Cropper struct{}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop writes the region of input to output and returns output.
func (Cropper) Crop(ctx context.Context, input string, region Region, output string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	in, err := os.Open(input)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", input, err)
	}

	b := img.Bounds()
	rect := image.Rect(
		b.Min.X+region.Left, b.Min.Y+region.Top,
		b.Min.X+region.Left+region.Width, b.Min.Y+region.Top+region.Height,
	).Intersect(b)
	if rect.Empty() {
		return "", fmt.Errorf("crop region %s is outside %dx%d image", region, b.Dx(), b.Dy())
	}
	si, ok := img.(subImager)
	if !ok {
		return "", fmt.Errorf("image type %T does not support cropping", img)
	}
	cropped := si.SubImage(rect)

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out, err := os.Create(output)
	if err != nil {
		return "", err
	}
	if err := encode(out, cropped, output); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return output, nil
}

func encode(f *os.File, img image.Image, path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return png.Encode(f, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	case ".gif":
		return gif.Encode(f, img, nil)
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}
}
