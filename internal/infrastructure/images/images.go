// Package images supplies attachment photos from a directory, re-encoded as
// JPEG small enough for the upload endpoint.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/random"

	_ "golang.org/x/image/webp"
)

const (
	minQuality = 10
	maxQuality = 95
	// downscaleRounds bounds how often an image is shrunk when even the
	// lowest quality is too large.
	downscaleRounds = 4
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

type Pool interface {
	Pick(ctx context.Context, rnd *random.Source, n int) ([][]byte, error)
}

// DirPool reads candidate images from a single directory.
type DirPool struct {
	dir      string
	maxBytes int
	maxEdge  int
	logger   *observability.Logger
}

func NewDirPool(cfg *config.ImagesConfig, logger *observability.Logger) *DirPool {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &DirPool{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		maxEdge:  cfg.MaxEdge,
		logger:   logger,
	}
}

// List returns the usable image files in name order. A missing directory
// is an empty pool.
func (p *DirPool) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfig, "failed to read image directory")
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(p.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Pick draws up to n distinct images uniformly and prepares them. A pool
// smaller than n yields every image; unreadable files are skipped.
func (p *DirPool) Pick(ctx context.Context, rnd *random.Source, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	files, err := p.List()
	if err != nil {
		return nil, err
	}
	if len(files) < n {
		p.logger.Warn(ctx, "Image pool smaller than requested",
			p.logger.Field("requested", n),
			p.logger.Field("available", len(files)),
		)
	}

	var out [][]byte
	for _, idx := range rnd.Sample(len(files), n) {
		if err := ctx.Err(); err != nil {
			return out, errors.Wrap(err, errors.ErrCodeCanceled, "image preparation interrupted")
		}
		data, err := os.ReadFile(files[idx])
		if err != nil {
			p.logger.Warn(ctx, "Skipping unreadable image", p.logger.Field("file", files[idx]), p.logger.Field("error", err.Error()))
			continue
		}
		jpeg, err := Prepare(data, p.maxEdge, p.maxBytes)
		if err != nil {
			p.logger.Warn(ctx, "Skipping image", p.logger.Field("file", files[idx]), p.logger.Field("error", err.Error()))
			continue
		}
		out = append(out, jpeg)
	}
	return out, nil
}

// Prepare decodes data, bounds its longest edge at maxEdge and encodes it
// as JPEG at the highest quality that fits in maxBytes.
func Prepare(data []byte, maxEdge, maxBytes int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfig, "unsupported image")
	}

	if maxEdge > 0 {
		b := img.Bounds()
		if b.Dx() > maxEdge || b.Dy() > maxEdge {
			img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
		}
	}

	for round := 0; round <= downscaleRounds; round++ {
		if out, ok := bestQuality(img, maxBytes); ok {
			return out, nil
		}
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()*3/4, 0, imaging.Lanczos)
	}
	return nil, errors.New(errors.ErrCodeConfig, fmt.Sprintf("image does not fit in %d bytes", maxBytes))
}

// bestQuality binary-searches the JPEG quality.
func bestQuality(img image.Image, maxBytes int) ([]byte, bool) {
	var best []byte
	lo, hi := minQuality, maxQuality
	for lo <= hi {
		q := (lo + hi) / 2
		out, err := encode(img, q)
		if err != nil {
			return nil, false
		}
		if maxBytes <= 0 || len(out) <= maxBytes {
			best = out
			lo = q + 1
		} else {
			hi = q - 1
		}
	}
	return best, best != nil
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
