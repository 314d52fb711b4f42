package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

var (
	ErrTooLarge     = errors.New("file too large")
	ErrInvalidImage = errors.New("invalid image")
	ErrUnsupported  = errors.New("unsupported image type")
)

// AvatarOptions bounds avatar uploads. Avatars are stored as square JPEGs.
type AvatarOptions struct {
	MaxBytes     int64
	MaxSourceDim int
	Size         int
	JPEGQuality  int
	Background   color.RGBA
}

func DefaultAvatarOptions() AvatarOptions {
	return AvatarOptions{
		MaxBytes:     5 * 1024 * 1024,
		MaxSourceDim: 8192,
		Size:         512,
		JPEGQuality:  85,
		Background:   color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

type Avatar struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

func (a *Avatar) Size() int64 {
	return int64(len(a.Data))
}

type decodeFunc func(io.Reader) (image.Image, error)
type configFunc func(io.Reader) (image.Config, error)

type format struct {
	decode decodeFunc
	config configFunc
}

var formats = map[string]format{
	"image/jpeg": {jpeg.Decode, jpeg.DecodeConfig},
	"image/png":  {png.Decode, png.DecodeConfig},
	"image/webp": {webp.Decode, webp.DecodeConfig},
}

// sniff identifies allowed types by magic number.
func sniff(header []byte) (string, error) {
	switch {
	case len(header) < 12:
		return "", ErrInvalidImage
	case bytes.HasPrefix(header, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg", nil
	case bytes.HasPrefix(header, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png", nil
	case bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WEBP")):
		return "image/webp", nil
	}
	return "", ErrUnsupported
}

// ProcessAvatar center-crops an upload to a square and scales it down to
// opts.Size. Smaller images are never upscaled.
func ProcessAvatar(r io.Reader, opts AvatarOptions) (*Avatar, error) {
	def := DefaultAvatarOptions()
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.MaxSourceDim <= 0 {
		opts.MaxSourceDim = def.MaxSourceDim
	}
	if opts.Size <= 0 {
		opts.Size = def.Size
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, ErrTooLarge
	}

	contentType, err := sniff(data)
	if err != nil {
		return nil, err
	}
	f := formats[contentType]

	// Check dimensions before allocating the full bitmap.
	cfg, err := f.config(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrInvalidImage
	}
	if cfg.Width > opts.MaxSourceDim || cfg.Height > opts.MaxSourceDim {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrTooLarge, cfg.Width, cfg.Height, opts.MaxSourceDim)
	}

	src, err := f.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	crop := squareCrop(src.Bounds())
	side := crop.Dx()
	if side > opts.Size {
		side = opts.Size
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return &Avatar{Data: out.Bytes(), ContentType: "image/jpeg", Width: side, Height: side}, nil
}

func squareCrop(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w == h {
		return b
	}
	if w > h {
		off := (w - h) / 2
		return image.Rect(b.Min.X+off, b.Min.Y, b.Min.X+off+h, b.Max.Y)
	}
	off := (h - w) / 2
	return image.Rect(b.Min.X, b.Min.Y+off, b.Max.X, b.Min.Y+off+w)
}
