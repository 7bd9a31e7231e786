package main

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
)

// unpack cuts every sprite listed in the metadata at jsonPath out of its
// atlas image and saves it below outputDir under its original relative name.
// The encoder is chosen from the file extension.
func unpack(jsonPath, outputDir string, logger *slog.Logger) error {
	data, err := readAtlasJSON(jsonPath)
	if err != nil {
		return err
	}

	atlasImagePath := filepath.Join(filepath.Dir(jsonPath), data.Image)
	atlasImg, err := imaging.Open(atlasImagePath)
	if err != nil {
		return fmt.Errorf("open atlas image: %w", err)
	}
	sub, ok := atlasImg.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return fmt.Errorf("atlas image %s: unsupported image type %T", atlasImagePath, atlasImg)
	}

	names := make([]string, 0, len(data.Sprites))
	for name := range data.Sprites {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		region := data.Sprites[name].Region
		r := image.Rect(region.X, region.Y, region.X+region.W, region.Y+region.H)
		if !r.In(atlasImg.Bounds()) {
			return fmt.Errorf("sprite %s: region %v outside atlas %v", name, r, atlasImg.Bounds())
		}
		// reject names that would escape outputDir
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("sprite %s: invalid name", name)
		}
		outputPath := filepath.Join(outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		if err := imaging.Save(sub.SubImage(r), outputPath); err != nil {
			return fmt.Errorf("save %s: %w", outputPath, err)
		}
		logger.Debug("unpacked", "sprite", name, "path", outputPath)
	}
	logger.Info("unpack finished", "count", len(names), "output", outputDir)
	return nil
}
