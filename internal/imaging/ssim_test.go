package imaging

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcap/appcap/internal/config"
)

// writePNG renders a w x h test image and saves it. fill maps pixel
// coordinates to a gray value.
func writePNG(t *testing.T, name string, w, h int, fill func(x, y int) uint8) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// gradient gives every pixel a distinct-ish value so the variance terms are
// nonzero.
func gradient(x, y int) uint8 { return uint8((x*7 + y*13) % 256) }

func TestCompare_IdenticalImages(t *testing.T) {
	t.Parallel()

	a := writePNG(t, "a.png", 64, 64, gradient)
	b := writePNG(t, "b.png", 64, 64, gradient)

	score, err := Compare(a, b, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestCompare_DifferentImagesScoreLower(t *testing.T) {
	t.Parallel()

	a := writePNG(t, "a.png", 64, 64, gradient)
	b := writePNG(t, "b.png", 64, 64, func(x, y int) uint8 { return uint8((255 - x*3 - y*5) % 256) })

	score, err := Compare(a, b, nil)
	require.NoError(t, err)
	assert.Less(t, score, 0.9)
}

func TestCompare_CropMasksDifference(t *testing.T) {
	t.Parallel()

	// The two images differ only in the top 16 rows (a status bar clock,
	// say); cropping that band away makes them identical.
	a := writePNG(t, "a.png", 64, 64, gradient)
	b := writePNG(t, "b.png", 64, 64, func(x, y int) uint8 {
		if y < 16 {
			return 255
		}
		return gradient(x, y)
	})

	score, err := Compare(a, b, nil)
	require.NoError(t, err)
	require.Less(t, score, 0.999)

	region := &config.CropRegion{X: 0, Y: 16, Width: 64, Height: 48}
	score, err = Compare(a, b, region)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestCompare_RegionMustFitReference(t *testing.T) {
	t.Parallel()

	a := writePNG(t, "a.png", 32, 32, gradient)
	b := writePNG(t, "b.png", 32, 32, gradient)

	region := &config.CropRegion{X: 0, Y: 0, Width: 100, Height: 100}
	_, err := Compare(a, b, region)
	assert.ErrorContains(t, err, "out of bounds")
}

func TestCompare_ResizesSmallerCandidateForCrop(t *testing.T) {
	t.Parallel()

	// The candidate is a half-resolution capture of the same flat screen.
	// The region fits the reference but not the raw candidate, so the
	// candidate is scaled up before cropping.
	a := writePNG(t, "a.png", 64, 64, func(x, y int) uint8 { return 128 })
	b := writePNG(t, "b.png", 32, 32, func(x, y int) uint8 { return 128 })

	region := &config.CropRegion{X: 0, Y: 40, Width: 64, Height: 24}
	score, err := Compare(a, b, region)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestCompare_ResizesCandidateWithoutCrop(t *testing.T) {
	t.Parallel()

	a := writePNG(t, "a.png", 64, 64, func(x, y int) uint8 { return 200 })
	b := writePNG(t, "b.png", 32, 32, func(x, y int) uint8 { return 200 })

	score, err := Compare(a, b, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestCompare_MissingFile(t *testing.T) {
	t.Parallel()

	a := writePNG(t, "a.png", 8, 8, gradient)
	_, err := Compare(a, filepath.Join(t.TempDir(), "nope.png"), nil)
	assert.Error(t, err)
}

func TestCompare_InvalidRegion(t *testing.T) {
	t.Parallel()

	a := writePNG(t, "a.png", 8, 8, gradient)
	b := writePNG(t, "b.png", 8, 8, gradient)

	region := &config.CropRegion{X: 0, Y: 0, Width: 0, Height: 8}
	_, err := Compare(a, b, region)
	assert.ErrorContains(t, err, "invalid crop region")
}
