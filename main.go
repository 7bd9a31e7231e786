package main

import (
	"errors"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"os"
	"time"

	"spritepacker/rectpack"

	"github.com/disintegration/imaging"
	"github.com/urfave/cli/v2"
)

const (
	VERSION = "0.1.0"
)

// errNoFiles is returned when the root directory holds no usable sources.
var errNoFiles = errors.New("no files to process")

// DebugInfo collects the time spent in each stage of a pack run.
type DebugInfo struct {
	LoadTime      time.Duration
	PackTime      time.Duration
	CompositeTime time.Duration
	SaveTime      time.Duration
}

// track adds the time until the returned func is called to d.
func track(d *time.Duration) func() {
	start := time.Now()
	return func() {
		*d += time.Since(start)
	}
}

// packResult is what a pack run produced.
type packResult struct {
	Canvas   rectpack.Size
	Rects    []rectpack.Rect
	Failures []*rectpack.PlacementError
	Sprites  []sprite
}

// packing places the sprites and returns the canvas to paint on.
func packing(sprites []sprite, options *Options, logger *slog.Logger) (*packResult, error) {
	sorter, err := options.Sorter()
	if err != nil {
		return nil, err
	}
	packer := rectpack.NewPacker(
		rectpack.WithMaxInputWidth(options.MaxSpriteWidth),
		rectpack.WithSorter(sorter),
		rectpack.WithLogger(logger),
	)
	for _, s := range sprites {
		packer.Insert(s.Size)
	}
	if !packer.Pack() {
		logger.Warn("some images could not be packed", "count", len(packer.Failures()))
	}

	for _, r := range packer.Rects() {
		logger.Info("placed", "path", sprites[r.ID].Path, "x", r.X, "y", r.Y)
	}
	for _, f := range packer.Failures() {
		logger.Warn("can't fit", "path", sprites[f.Size.ID].Path, "w", f.Size.Width, "h", f.Size.Height)
	}

	canvas := packer.Canvas()
	if options.PowerOfTwo {
		canvas.Height = nextPowerOfTwo(canvas.Height)
	}
	return &packResult{
		Canvas:   canvas,
		Rects:    packer.Rects(),
		Failures: packer.Failures(),
		Sprites:  sprites,
	}, nil
}

// runPack builds the atlas for options.RootDir.
func runPack(options *Options, logger *slog.Logger) (*packResult, error) {
	var debugInfo DebugInfo
	defer func() {
		logger.Debug("timings",
			"load", debugInfo.LoadTime,
			"pack", debugInfo.PackTime,
			"composite", debugInfo.CompositeTime,
			"save", debugInfo.SaveTime)
	}()

	if err := options.validate(); err != nil {
		return nil, err
	}

	done := track(&debugInfo.LoadTime)
	exclude := []string{options.PalettePath(), options.OutputPath()}
	files, err := findFiles(options.RootDir, options.Extension, exclude, logger)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errNoFiles
	}

	colorMap, err := LoadColorMap(options.PalettePath())
	if err != nil {
		return nil, err
	}

	logger.Info("loading", "files", len(files))
	sprites := loadImages(files, options.MaxSize, options.MaxImages, logger)
	done()
	if len(sprites) == 0 {
		return nil, errNoFiles
	}

	logger.Info("fitting", "images", len(sprites))
	done = track(&debugInfo.PackTime)
	result, err := packing(sprites, options, logger)
	done()
	if err != nil {
		return nil, err
	}

	logger.Info("merging", "width", result.Canvas.Width, "height", result.Canvas.Height)
	done = track(&debugInfo.CompositeTime)
	atlas, err := CreateAtlasImage(result.Rects, result.Canvas, colorMap, sprites)
	done()
	if err != nil {
		return nil, fmt.Errorf("create atlas: %w", err)
	}

	defer track(&debugInfo.SaveTime)()
	outputPath := options.OutputPath()
	if err := imaging.Save(atlas, outputPath, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("save atlas: %w", err)
	}
	logger.Info("atlas written", "path", outputPath)

	if options.WriteJSON {
		data := newAtlasData(options.RootDir, outputPath, result.Canvas, result.Rects, result.Failures, sprites)
		if err := writeAtlasJSON(data, options.JSONPath()); err != nil {
			return nil, err
		}
		logger.Info("metadata written", "path", options.JSONPath())
	}
	return result, nil
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))
}

// setIn returns the innermost context in which the flag name was set. Pack
// flags exist both globally and on the pack command.
func setIn(c *cli.Context, name string) (*cli.Context, bool) {
	for _, ctx := range c.Lineage() {
		if ctx.IsSet(name) {
			return ctx, true
		}
	}
	return nil, false
}

// optionsFromContext layers defaults, the config file and explicitly set
// flags, in that order.
func optionsFromContext(c *cli.Context) (*Options, error) {
	options := defaultOptions()
	if c.NArg() > 0 {
		options.RootDir = c.Args().First()
	}

	if c.IsSet("config") {
		if err := readConfig(c.String("config"), &options); err != nil {
			return nil, err
		}
	} else if _, err := readDefaultConfig(&options); err != nil {
		return nil, err
	}

	if ctx, ok := setIn(c, "palette"); ok {
		options.Palette = ctx.String("palette")
	}
	if ctx, ok := setIn(c, "output"); ok {
		options.Output = ctx.String("output")
	}
	if ctx, ok := setIn(c, "ext"); ok {
		options.Extension = ctx.String("ext")
	}
	if ctx, ok := setIn(c, "max-size"); ok {
		options.MaxSize = ctx.Int("max-size")
	}
	if ctx, ok := setIn(c, "max-images"); ok {
		options.MaxImages = ctx.Int("max-images")
	}
	if ctx, ok := setIn(c, "max-sprite-width"); ok {
		options.MaxSpriteWidth = ctx.Int("max-sprite-width")
	}
	if ctx, ok := setIn(c, "sort"); ok {
		options.Sort = ctx.String("sort")
	}
	if ctx, ok := setIn(c, "pow-of-two"); ok {
		options.PowerOfTwo = ctx.Bool("pow-of-two")
	}
	if ctx, ok := setIn(c, "json"); ok {
		options.WriteJSON = ctx.Bool("json")
	}
	return &options, nil
}

func packAction(c *cli.Context) error {
	if c.NArg() > 1 {
		return cli.Exit("expected at most one directory", 1)
	}
	logger := newLogger(c)

	options, err := optionsFromContext(c)
	if err != nil {
		return cli.Exit(err, 1)
	}

	if _, err := runPack(options, logger); err != nil {
		if errors.Is(err, errNoFiles) {
			logger.Info("no files to process", "root", options.RootDir)
			return nil
		}
		return cli.Exit(err, 1)
	}
	return nil
}

func unpackAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected the metadata file to unpack", 1)
	}
	if err := unpack(c.Args().First(), c.String("output"), newLogger(c)); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func packFlags() []cli.Flag {
	defaults := defaultOptions()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "palette",
			EnvVars: []string{"SPRITEPACKER_PALETTE"},
			Value:   defaults.Palette,
			Usage:   "indexed image supplying the 256 color map, relative to DIR",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			EnvVars: []string{"SPRITEPACKER_OUTPUT"},
			Value:   defaults.Output,
			Usage:   "atlas image path, relative to DIR",
		},
		&cli.StringFlag{
			Name:    "ext",
			EnvVars: []string{"SPRITEPACKER_EXT"},
			Value:   defaults.Extension,
			Usage:   "extension of the source images",
		},
		&cli.IntFlag{
			Name:    "max-size",
			EnvVars: []string{"SPRITEPACKER_MAX_SIZE"},
			Value:   defaults.MaxSize,
			Usage:   "skip images with a side of at least this many pixels",
		},
		&cli.IntFlag{
			Name:    "max-images",
			EnvVars: []string{"SPRITEPACKER_MAX_IMAGES"},
			Value:   defaults.MaxImages,
			Usage:   "stop collecting after this many images, 0 for no limit",
		},
		&cli.IntFlag{
			Name:    "max-sprite-width",
			EnvVars: []string{"SPRITEPACKER_MAX_SPRITE_WIDTH"},
			Value:   defaults.MaxSpriteWidth,
			Usage:   "report sprites wider than this as failures; the atlas itself may be wider",
		},
		&cli.StringFlag{
			Name:    "sort",
			EnvVars: []string{"SPRITEPACKER_SORT"},
			Value:   defaults.Sort,
			Usage:   "packing order: area or height, both descending",
		},
		&cli.BoolFlag{
			Name:    "pow-of-two",
			EnvVars: []string{"SPRITEPACKER_POW_OF_TWO"},
			Usage:   "round the atlas height up to a power of two",
		},
		&cli.BoolFlag{
			Name:    "json",
			EnvVars: []string{"SPRITEPACKER_JSON"},
			Value:   defaults.WriteJSON,
			Usage:   "write the atlas metadata next to the image",
		},
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "spritepacker"
	app.Usage = "Pack indexed sprites into a single atlas image"
	app.Version = VERSION
	app.ArgsUsage = "[DIR]"

	app.Flags = append([]cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"SPRITEPACKER_CONFIG"},
			Usage:   "TOML config file, defaults to DIR/" + configFile,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}, packFlags()...)
	app.Action = packAction

	app.Commands = []*cli.Command{
		{
			Name:      "pack",
			Usage:     "Pack the images found below DIR (default .)",
			ArgsUsage: "[DIR]",
			Flags:     packFlags(),
			Action:    packAction,
		},
		{
			Name:      "unpack",
			Usage:     "Extract the sprites of an atlas using its metadata",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Value:   "unpacked",
					Usage:   "output directory",
				},
			},
			Action: unpackAction,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
