package main

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"spritepacker/rectpack"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"golang.org/x/image/bmp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPalette returns 256 distinct opaque colors.
func testPalette() color.Palette {
	p := make(color.Palette, colorMapSize)
	for i := range p {
		p[i] = color.RGBA{R: uint8(i), G: uint8(255 - i), B: uint8(i / 2), A: 0xff}
	}
	return p
}

func reversed(p color.Palette) color.Palette {
	r := make(color.Palette, len(p))
	for i, c := range p {
		r[len(p)-1-i] = c
	}
	return r
}

// writeBMP writes a w x h indexed BMP filled with index.
func writeBMP(t *testing.T, path string, w, h int, p color.Palette, index uint8) {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), p)
	for i := range img.Pix {
		img.Pix[i] = index
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, bmp.Encode(f, img))
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestFindFiles(t *testing.T) {
	root := t.TempDir()
	p := testPalette()
	for _, name := range []string{"img10.bmp", "img2.bmp", "IMG3.BMP", "palette.bmp", filepath.Join("sub", "img1.bmp")} {
		writeBMP(t, filepath.Join(root, name), 2, 2, p, 0)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("x"), 0644))

	files, err := findFiles(root, ".bmp", []string{filepath.Join(root, "palette.bmp")}, discardLogger())
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "IMG3.BMP"),
		filepath.Join(root, "img2.bmp"),
		filepath.Join(root, "img10.bmp"),
		filepath.Join(root, "sub", "img1.bmp"),
	}
	assert.Equal(t, want, files)
}

func TestFindFilesMissingRoot(t *testing.T) {
	_, err := findFiles(filepath.Join(t.TempDir(), "missing"), ".bmp", nil, discardLogger())
	assert.Error(t, err)
}

func TestLoadImages(t *testing.T) {
	root := t.TempDir()
	p := testPalette()
	writeBMP(t, filepath.Join(root, "big.bmp"), 256, 10, p, 0)
	writePNG(t, filepath.Join(root, "rgba.png"), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.bmp"), []byte("not an image"), 0644))
	writeBMP(t, filepath.Join(root, "ok1.bmp"), 10, 20, p, 0)
	writeBMP(t, filepath.Join(root, "ok2.bmp"), 255, 255, p, 0)
	writeBMP(t, filepath.Join(root, "ok3.bmp"), 3, 3, p, 0)

	paths := []string{
		filepath.Join(root, "big.bmp"),
		filepath.Join(root, "rgba.png"),
		filepath.Join(root, "broken.bmp"),
		filepath.Join(root, "ok1.bmp"),
		filepath.Join(root, "ok2.bmp"),
		filepath.Join(root, "ok3.bmp"),
	}

	sprites := loadImages(paths, 256, 2, discardLogger())
	require.Len(t, sprites, 2)
	assert.Equal(t, sprite{Path: paths[3], Size: rectpack.NewSizeID(0, 10, 20)}, sprites[0])
	assert.Equal(t, sprite{Path: paths[4], Size: rectpack.NewSizeID(1, 255, 255)}, sprites[1])

	assert.Len(t, loadImages(paths, 256, 0, discardLogger()), 3)
}

func TestCheckImage(t *testing.T) {
	p := testPalette()
	assert.NoError(t, checkImage(image.Config{ColorModel: p, Width: 5, Height: 5}, 256))
	assert.Error(t, checkImage(image.Config{ColorModel: p, Width: 5, Height: 256}, 256))
	assert.ErrorIs(t, checkImage(image.Config{ColorModel: color.RGBAModel, Width: 5, Height: 5}, 256), errNotIndexed)
	assert.ErrorIs(t, checkImage(image.Config{ColorModel: append(p, color.Black), Width: 5, Height: 5}, 256), errNotIndexed)
}

func TestLoadColorMap(t *testing.T) {
	root := t.TempDir()

	full := filepath.Join(root, "palette.bmp")
	writeBMP(t, full, 4, 4, testPalette(), 0)
	colorMap, err := LoadColorMap(full)
	require.NoError(t, err)
	assert.Equal(t, testPalette(), colorMap)

	small := filepath.Join(root, "small.png")
	writePNG(t, small, image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{
		color.RGBA{R: 0xff, A: 0xff},
		color.RGBA{G: 0xff, A: 0xff},
	}))
	colorMap, err = LoadColorMap(small)
	require.NoError(t, err)
	require.Len(t, colorMap, colorMapSize)
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, colorMap[0])
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, colorMap[1])
	assert.Equal(t, color.RGBA{A: 0xff}, colorMap[255])

	rgba := filepath.Join(root, "rgba.png")
	writePNG(t, rgba, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	_, err = LoadColorMap(rgba)
	assert.ErrorIs(t, err, errNotIndexed)

	_, err = LoadColorMap(filepath.Join(root, "missing.bmp"))
	assert.Error(t, err)
}

func TestPaint(t *testing.T) {
	p := testPalette()
	dst := image.NewPaletted(image.Rect(0, 0, 8, 8), p)

	src := image.NewPaletted(image.Rect(0, 0, 2, 2), reversed(p))
	for i := range src.Pix {
		src.Pix[i] = 255 - 7
	}
	paint(dst, image.Rect(1, 1, 3, 3), src)
	assert.Equal(t, uint8(7), dst.ColorIndexAt(1, 1))
	assert.Equal(t, uint8(7), dst.ColorIndexAt(2, 2))
	assert.Equal(t, uint8(0), dst.ColorIndexAt(3, 3))

	rgba := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			rgba.Set(x, y, p[42])
		}
	}
	paint(dst, image.Rect(5, 5, 7, 7), rgba)
	assert.Equal(t, uint8(42), dst.ColorIndexAt(5, 6))
}

func TestParallel(t *testing.T) {
	for _, n := range []int{0, 3, 1000} {
		counts := make([]int32, n)
		Parallel(0, n, func(i int) {
			atomic.AddInt32(&counts[i], 1)
		})
		for i, c := range counts {
			assert.Equalf(t, int32(1), c, "index %d of %d", i, n)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	for n, want := range map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 80: 128, 128: 128, 129: 256} {
		assert.Equal(t, want, nextPowerOfTwo(n), "n=%d", n)
	}
}

// newTestRoot creates a root directory with a palette and four sprites.
// Each sprite uses the reversed palette and is filled with a single color;
// want maps the sprite name to the atlas index it must end up as.
func newTestRoot(t *testing.T) (root string, want map[string]uint8) {
	root = t.TempDir()
	p := testPalette()
	writeBMP(t, filepath.Join(root, "palette.bmp"), 16, 16, p, 0)

	want = map[string]uint8{
		"a.bmp":     1,
		"b.bmp":     2,
		"c.bmp":     3,
		"sub/d.bmp": 4,
	}
	sizes := map[string][2]int{
		"a.bmp":     {64, 64},
		"b.bmp":     {32, 32},
		"c.bmp":     {32, 32},
		"sub/d.bmp": {16, 8},
	}
	for name, index := range want {
		size := sizes[name]
		writeBMP(t, filepath.Join(root, filepath.FromSlash(name)), size[0], size[1], reversed(p), 255-index)
	}
	return root, want
}

func TestRunPack(t *testing.T) {
	root, want := newTestRoot(t)
	options := defaultOptions()
	options.RootDir = root

	result, err := runPack(&options, discardLogger())
	require.NoError(t, err)
	assert.Empty(t, result.Failures)
	assert.Len(t, result.Rects, 4)
	assert.Equal(t, rectpack.NewSize(128, 128), result.Canvas)

	img, err := imaging.Open(filepath.Join(root, "SpriteAtlas.png"))
	require.NoError(t, err)
	atlas, ok := img.(*image.Paletted)
	require.True(t, ok, "atlas is %T", img)
	assert.Equal(t, image.Rect(0, 0, 128, 128), atlas.Bounds())
	assert.Equal(t, testPalette(), atlas.Palette)

	data, err := readAtlasJSON(filepath.Join(root, "SpriteAtlas.json"))
	require.NoError(t, err)
	assert.Equal(t, "SpriteAtlas.png", data.Image)
	assert.Equal(t, 128, data.TotalSize.W)
	assert.Empty(t, data.Failed)
	require.Len(t, data.Sprites, len(want))
	for name, index := range want {
		info, ok := data.Sprites[name]
		require.True(t, ok, name)
		r := info.Region
		for y := r.Y; y < r.Y+r.H; y++ {
			for x := r.X; x < r.X+r.W; x++ {
				require.Equalf(t, index, atlas.ColorIndexAt(x, y), "%s at %d,%d", name, x, y)
			}
		}
	}

	out := t.TempDir()
	require.NoError(t, unpack(filepath.Join(root, "SpriteAtlas.json"), out, discardLogger()))
	d, err := imaging.Open(filepath.Join(out, "sub", "d.bmp"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), d.Bounds())
	r, g, b, a := d.At(3, 5).RGBA()
	wr, wg, wb, wa := testPalette()[4].RGBA()
	assert.Equal(t, []uint32{wr, wg, wb, wa}, []uint32{r, g, b, a})
}

func TestRunPackFailures(t *testing.T) {
	root, _ := newTestRoot(t)
	options := defaultOptions()
	options.RootDir = root
	options.MaxSpriteWidth = 32
	options.PowerOfTwo = true

	result, err := runPack(&options, discardLogger())
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0], rectpack.ErrTooWide)
	assert.Len(t, result.Rects, 3)
	// the limit applies to sprites; the atlas is sized from the rest
	assert.Equal(t, 64, result.Canvas.Width)
	assert.Equal(t, nextPowerOfTwo(result.Canvas.Height), result.Canvas.Height)

	data, err := readAtlasJSON(options.JSONPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bmp"}, data.Failed)
	assert.NotContains(t, data.Sprites, "a.bmp")
}

func TestRunPackNoFiles(t *testing.T) {
	options := defaultOptions()
	options.RootDir = t.TempDir()
	_, err := runPack(&options, discardLogger())
	assert.True(t, errors.Is(err, errNoFiles))
}

func TestRunPackMissingPalette(t *testing.T) {
	root, _ := newTestRoot(t)
	options := defaultOptions()
	options.RootDir = root
	options.Palette = "other.bmp"

	_, err := runPack(&options, discardLogger())
	assert.ErrorContains(t, err, "read color map")
}

func TestOptionsPaths(t *testing.T) {
	options := defaultOptions()
	options.RootDir = "assets"
	assert.Equal(t, filepath.Join("assets", "palette.bmp"), options.PalettePath())
	assert.Equal(t, filepath.Join("assets", "SpriteAtlas.png"), options.OutputPath())
	assert.Equal(t, filepath.Join("assets", "SpriteAtlas.json"), options.JSONPath())

	abs := filepath.Join(t.TempDir(), "out.png")
	options.Output = abs
	assert.Equal(t, abs, options.OutputPath())
}

func TestOptionsSorter(t *testing.T) {
	options := defaultOptions()
	sorter, err := options.Sorter()
	require.NoError(t, err)
	assert.Equal(t, -1, sorter(rectpack.NewSize(4, 4), rectpack.NewSize(8, 1)))

	options.Sort = "height"
	sorter, err = options.Sorter()
	require.NoError(t, err)
	assert.Equal(t, 1, sorter(rectpack.NewSize(4, 4), rectpack.NewSize(8, 5)))

	options.Sort = "random"
	assert.ErrorContains(t, options.validate(), `unknown sort "random"`)
}

func TestRunPackSortHeight(t *testing.T) {
	root, _ := newTestRoot(t)
	options := defaultOptions()
	options.RootDir = root
	options.Sort = "height"

	result, err := runPack(&options, discardLogger())
	require.NoError(t, err)
	require.Len(t, result.Rects, 4)
	var order []string
	for _, r := range result.Rects {
		order = append(order, filepath.Base(result.Sprites[r.ID].Path))
	}
	assert.Equal(t, []string{"a.bmp", "b.bmp", "c.bmp", "d.bmp"}, order)
}

func TestOptionsFromContext(t *testing.T) {
	root := t.TempDir()
	config := "palette = \"pal.bmp\"\nmax_images = 3\npow_of_two = true\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, configFile), []byte(config), 0644))

	var options *Options
	app := newApp()
	app.ErrWriter = io.Discard
	app.Action = func(c *cli.Context) (err error) {
		options, err = optionsFromContext(c)
		return err
	}
	require.NoError(t, app.Run([]string{"spritepacker", "--max-images", "5", root}))

	require.NotNil(t, options)
	assert.Equal(t, root, options.RootDir)
	assert.Equal(t, "pal.bmp", options.Palette)
	assert.Equal(t, 5, options.MaxImages)
	assert.True(t, options.PowerOfTwo)
	assert.Equal(t, ".bmp", options.Extension)
	assert.Equal(t, 256, options.MaxSize)
}

func TestApp(t *testing.T) {
	root, _ := newTestRoot(t)
	run := func(args ...string) error {
		app := newApp()
		app.ErrWriter = io.Discard
		return app.Run(append([]string{"spritepacker"}, args...))
	}

	require.NoError(t, run("--json=false", root))
	assert.FileExists(t, filepath.Join(root, "SpriteAtlas.png"))
	assert.NoFileExists(t, filepath.Join(root, "SpriteAtlas.json"))

	require.NoError(t, run("pack", root))
	assert.FileExists(t, filepath.Join(root, "SpriteAtlas.json"))

	require.NoError(t, run("pack", "--max-sprite-width", "32", "--sort", "height", "-o", "local.png", root))
	data, err := readAtlasJSON(filepath.Join(root, "local.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bmp"}, data.Failed)
	assert.Equal(t, 64, data.TotalSize.W)

	require.NoError(t, run("--max-sprite-width", "32", "pack", "-o", "global.png", root))
	data, err = readAtlasJSON(filepath.Join(root, "global.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bmp"}, data.Failed)

	out := t.TempDir()
	require.NoError(t, run("unpack", "-o", out, filepath.Join(root, "SpriteAtlas.json")))
	assert.FileExists(t, filepath.Join(out, "a.bmp"))
}

func TestUnpackNames(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "atlas.png"), image.NewPaletted(image.Rect(0, 0, 8, 4), testPalette()))

	write := func(name string) string {
		data := &AtlasData{
			Image: "atlas.png",
			Sprites: map[string]SpriteInfo{
				name: {Filename: filepath.Base(name), Region: Region{X: 0, Y: 0, W: 4, H: 4}},
			},
		}
		path := filepath.Join(dir, "atlas.json")
		require.NoError(t, writeAtlasJSON(data, path))
		return path
	}

	out := t.TempDir()
	require.NoError(t, unpack(write("..dots.bmp"), out, discardLogger()))
	assert.FileExists(t, filepath.Join(out, "..dots.bmp"))

	for _, name := range []string{"../escape.bmp", "sub/../../escape.bmp", "/abs.bmp"} {
		err := unpack(write(name), out, discardLogger())
		assert.ErrorContainsf(t, err, "invalid name", "name %q", name)
	}
	assert.NoFileExists(t, filepath.Join(filepath.Dir(out), "escape.bmp"))
}
