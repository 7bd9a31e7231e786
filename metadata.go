package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spritepacker/rectpack"
)

// Region is a rectangle inside the atlas image.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// SpriteInfo describes where a source image ended up in the atlas.
type SpriteInfo struct {
	Filename string `json:"filename"`
	Region   Region `json:"region"`
}

// AtlasData is the JSON metadata written next to the atlas image.
type AtlasData struct {
	Meta struct {
		Version   string `json:"version"`
		Timestamp string `json:"timestamp"`
	} `json:"meta"`
	Image     string `json:"image"`
	TotalSize struct {
		W int `json:"w"`
		H int `json:"h"`
	} `json:"totalSize"`
	// Sprites are keyed by the source path relative to the root directory.
	Sprites map[string]SpriteInfo `json:"sprites"`
	Failed  []string              `json:"failed,omitempty"`
}

// relName returns path relative to root with forward slashes, or the path
// itself when it is not below root.
func relName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// newAtlasData describes a packed atlas.
func newAtlasData(root, imagePath string, size rectpack.Size, rects []rectpack.Rect, failures []*rectpack.PlacementError, sprites []sprite) *AtlasData {
	data := &AtlasData{
		Image:   filepath.Base(imagePath),
		Sprites: make(map[string]SpriteInfo, len(rects)),
	}
	data.Meta.Version = VERSION
	data.Meta.Timestamp = time.Now().Format("2006-01-02 15:04:05")
	data.TotalSize.W = size.Width
	data.TotalSize.H = size.Height

	for _, r := range rects {
		name := relName(root, sprites[r.ID].Path)
		data.Sprites[name] = SpriteInfo{
			Filename: filepath.Base(name),
			Region:   Region{X: r.X, Y: r.Y, W: r.Width, H: r.Height},
		}
	}
	for _, f := range failures {
		data.Failed = append(data.Failed, relName(root, sprites[f.Size.ID].Path))
	}
	return data
}

// writeAtlasJSON writes data to path as indented JSON.
func writeAtlasJSON(data *AtlasData, path string) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// readAtlasJSON loads metadata written by writeAtlasJSON.
func readAtlasJSON(path string) (*AtlasData, error) {
	jsonData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var data AtlasData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return &data, nil
}
