// Package media prepares uploaded thumbnails and stores them on disk or in
// an S3-compatible bucket.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/eringen/pubdesk/content"
)

const (
	MaxWidth      = 1200
	JPEGQuality   = 80
	MaxUploadSize = 10 << 20 // 10MB
	ContentType   = "image/jpeg"
)

// ErrInvalidImage wraps decode failures of user uploads.
var ErrInvalidImage = errors.New("invalid image")

// Image is a processed, JPEG-encoded upload.
type Image struct {
	Name   string
	Width  int
	Height int
	Data   []byte
}

// Process decodes src, downscales it to MaxWidth when wider, and encodes
// it as JPEG.
func Process(src io.Reader, originalName string) (*Image, error) {
	img, _, err := image.Decode(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > MaxWidth {
		newH := h * MaxWidth / w
		if newH < 1 {
			newH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, MaxWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w, h = MaxWidth, newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &Image{Name: baseName(originalName), Width: w, Height: h, Data: buf.Bytes()}, nil
}

func baseName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	slug := content.Slugify(strings.TrimSuffix(name, path.Ext(name)))
	if slug == "" {
		return "image"
	}
	return slug
}

// Key builds the object key for an upload by authorID.
func Key(authorID, name string, at time.Time) string {
	owner := content.Slugify(authorID)
	if owner == "" {
		owner = "shared"
	}
	return fmt.Sprintf("%s/%d-%s.jpg", owner, at.UnixMilli(), baseName(name))
}

// Storage persists processed images and returns their public URL.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Upload processes src and stores it under a key owned by authorID.
func Upload(ctx context.Context, store Storage, authorID string, src io.Reader, originalName string) (string, *Image, error) {
	img, err := Process(src, originalName)
	if err != nil {
		return "", nil, err
	}
	url, err := store.Put(ctx, Key(authorID, img.Name, time.Now()), img.Data, ContentType)
	if err != nil {
		return "", nil, err
	}
	return url, img, nil
}
