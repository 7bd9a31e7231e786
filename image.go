package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"spritepacker/rectpack"

	"github.com/disintegration/imaging"
	"github.com/maruel/natural"
	_ "golang.org/x/image/bmp"
)

// colorMapSize is the number of entries in the atlas palette.
const colorMapSize = 256

// errNotIndexed is returned for images that are not 8-bit palette images.
var errNotIndexed = errors.New("not an 8 bpp indexed image")

// sprite is a source image accepted for packing.
type sprite struct {
	Path string
	Size rectpack.Size
}

// Parallel calls fn for every index in [start, end), spreading the work
// over one goroutine per CPU.
func Parallel(start, end int, fn func(i int)) {
	numGoroutines := runtime.NumCPU()
	if end-start < numGoroutines {
		// not worth the goroutines
		for i := start; i < end; i++ {
			fn(i)
		}
		return
	}
	var wg sync.WaitGroup
	batchSize := (end - start + numGoroutines - 1) / numGoroutines
	for i := start; i < end; i += batchSize {
		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			for j := from; j < to && j < end; j++ {
				fn(j)
			}
		}(i, i+batchSize)
	}
	wg.Wait()
}

// findFiles walks root and returns every file with the given extension in
// natural order. Unreadable directories are logged and skipped; paths listed
// in exclude are never returned.
func findFiles(root, ext string, exclude []string, logger *slog.Logger) ([]string, error) {
	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		skip[filepath.Clean(p)] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skip", "path", path, "reason", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		if skip[filepath.Clean(path)] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Sort(natural.StringSlice(paths))
	return paths, nil
}

// decodeConfig reads only the header of the image at path.
func decodeConfig(path string) (image.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	return cfg, err
}

// checkImage validates the header of a candidate source image.
func checkImage(cfg image.Config, maxSize int) error {
	if cfg.Width >= maxSize || cfg.Height >= maxSize {
		return fmt.Errorf("file too big %dx%d", cfg.Width, cfg.Height)
	}
	p, ok := cfg.ColorModel.(color.Palette)
	if !ok || len(p) > colorMapSize {
		return errNotIndexed
	}
	return nil
}

// loadImages decodes the headers of paths and returns the images that can be
// packed, in path order, stopping once maxImages were accepted. A maxImages
// below 1 means no limit. Files that fail to decode or are rejected are
// logged and skipped.
func loadImages(paths []string, maxSize, maxImages int, logger *slog.Logger) []sprite {
	configs := make([]image.Config, len(paths))
	errs := make([]error, len(paths))
	Parallel(0, len(paths), func(i int) {
		configs[i], errs[i] = decodeConfig(paths[i])
	})

	sprites := make([]sprite, 0, len(paths))
	for i, path := range paths {
		if errs[i] != nil {
			logger.Warn("error", "path", path, "reason", errs[i])
			continue
		}
		if err := checkImage(configs[i], maxSize); err != nil {
			logger.Info("skip", "path", path, "reason", err)
			continue
		}
		sprites = append(sprites, sprite{
			Path: path,
			Size: rectpack.NewSizeID(len(sprites), configs[i].Width, configs[i].Height),
		})
		if maxImages > 0 && len(sprites) >= maxImages {
			break
		}
	}
	return sprites
}

// LoadColorMap reads the palette of the indexed image at path. Palettes
// with fewer than 256 entries are padded with opaque black.
func LoadColorMap(path string) (color.Palette, error) {
	cfg, err := decodeConfig(path)
	if err != nil {
		return nil, fmt.Errorf("read color map %s: %w", path, err)
	}
	p, ok := cfg.ColorModel.(color.Palette)
	if !ok {
		return nil, fmt.Errorf("read color map %s: %w", path, errNotIndexed)
	}
	if len(p) > colorMapSize {
		return nil, fmt.Errorf("read color map %s: %d colors, want at most %d", path, len(p), colorMapSize)
	}
	colorMap := make(color.Palette, colorMapSize)
	for i := range colorMap {
		if i < len(p) {
			colorMap[i] = p[i]
		} else {
			colorMap[i] = color.RGBA{A: 0xff}
		}
	}
	return colorMap, nil
}

// paint copies src into dst at r. Paletted sources are remapped index by
// index; anything else goes through the nearest color of dst's palette.
func paint(dst *image.Paletted, r image.Rectangle, src image.Image) {
	sp, ok := src.(*image.Paletted)
	if !ok {
		draw.Draw(dst, r, src, src.Bounds().Min, draw.Src)
		return
	}
	lut := make([]uint8, len(sp.Palette))
	for i, c := range sp.Palette {
		lut[i] = uint8(dst.Palette.Index(c))
	}
	b := sp.Bounds()
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			idx := sp.ColorIndexAt(b.Min.X+x, b.Min.Y+y)
			if int(idx) < len(lut) {
				dst.SetColorIndex(r.Min.X+x, r.Min.Y+y, lut[idx])
			}
		}
	}
}

// CreateAtlasImage paints every placed sprite onto a new indexed image of
// the given size using colorMap.
func CreateAtlasImage(rects []rectpack.Rect, size rectpack.Size, colorMap color.Palette, sprites []sprite) (*image.Paletted, error) {
	dstImage := image.NewPaletted(image.Rect(0, 0, size.Width, size.Height), colorMap)

	var mu sync.Mutex
	var wg sync.WaitGroup
	errChan := make(chan error, len(rects))
	semaphore := make(chan struct{}, runtime.NumCPU())
	for _, rect := range rects {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(r rectpack.Rect) {
			defer wg.Done()
			defer func() { <-semaphore }()
			// the rectangle ID is the sprite index
			path := sprites[r.ID].Path
			srcImage, err := imaging.Open(path)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", path, err)
				return
			}
			if b := srcImage.Bounds(); b.Dx() != r.Width || b.Dy() != r.Height {
				errChan <- fmt.Errorf("%s: size changed to %dx%d", path, b.Dx(), b.Dy())
				return
			}
			dstRect := image.Rect(r.X, r.Y, r.Right(), r.Bottom())

			mu.Lock()
			paint(dstImage, dstRect, srcImage)
			mu.Unlock()
		}(rect)
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}
	return dstImage, nil
}

// nextPowerOfTwo returns the smallest power of two >= n.
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
