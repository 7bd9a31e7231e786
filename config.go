package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"spritepacker/rectpack"

	"github.com/BurntSushi/toml"
)

// configFile is looked up in the root directory when no config is given.
const configFile = "spritepacker.toml"

// Options holds the settings of a pack run.
type Options struct {
	RootDir        string `toml:"-"`
	Palette        string `toml:"palette"`          // reference image supplying the color map
	Output         string `toml:"output"`           // atlas image path
	Extension      string `toml:"extension"`        // source file extension
	MaxSize        int    `toml:"max_size"`         // sources must be smaller on both sides
	MaxImages      int    `toml:"max_images"`       // stop collecting after this many, 0 for no limit
	MaxSpriteWidth int    `toml:"max_sprite_width"` // wider sprites are reported, not packed
	Sort           string `toml:"sort"`             // packing order, see sorters
	PowerOfTwo     bool   `toml:"pow_of_two"`       // round the canvas height up to a power of two
	WriteJSON      bool   `toml:"json"`             // write metadata next to the atlas
}

// sorters maps the accepted sort names to packing orders.
var sorters = map[string]rectpack.SortFunc{
	"area":   rectpack.SortArea,
	"height": rectpack.SortHeight,
}

func defaultOptions() Options {
	return Options{
		RootDir:        ".",
		Palette:        "palette.bmp",
		Output:         "SpriteAtlas.png",
		Extension:      ".bmp",
		MaxSize:        256,
		MaxImages:      11,
		MaxSpriteWidth: rectpack.DefaultSize,
		Sort:           "area",
		WriteJSON:      true,
	}
}

// readConfig decodes the TOML file at path over o. Keys missing from the
// file keep their current value.
func readConfig(path string, o *Options) error {
	if _, err := toml.DecodeFile(path, o); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// readDefaultConfig loads configFile from the root directory if it exists.
func readDefaultConfig(o *Options) (bool, error) {
	path := filepath.Join(o.RootDir, configFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, readConfig(path, o)
}

// inRoot resolves relative paths against the root directory.
func (o *Options) inRoot(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(o.RootDir, path)
}

// PalettePath returns the location of the color map image.
func (o *Options) PalettePath() string {
	return o.inRoot(o.Palette)
}

// OutputPath returns the location of the atlas image.
func (o *Options) OutputPath() string {
	return o.inRoot(o.Output)
}

// JSONPath returns the location of the metadata file.
func (o *Options) JSONPath() string {
	out := o.OutputPath()
	return out[:len(out)-len(filepath.Ext(out))] + ".json"
}

// Sorter returns the packing order named by o.Sort.
func (o *Options) Sorter() (rectpack.SortFunc, error) {
	sorter, ok := sorters[o.Sort]
	if !ok {
		return nil, fmt.Errorf("unknown sort %q (want area or height)", o.Sort)
	}
	return sorter, nil
}

func (o *Options) validate() error {
	switch {
	case o.MaxSize < 1:
		return fmt.Errorf("max size must be greater than 0 (given %d)", o.MaxSize)
	case o.MaxSpriteWidth < 1:
		return fmt.Errorf("max sprite width must be greater than 0 (given %d)", o.MaxSpriteWidth)
	case o.Extension == "":
		return errors.New("extension must not be empty")
	}
	_, err := o.Sorter()
	return err
}
