// Package imaging scores the structural similarity of two screenshots so
// the UI driver can tell whether a tap landed on the screen it expected.
package imaging

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/appcap/appcap/internal/config"
)

// SSIM stabilisation constants for 8-bit luminance.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// Compare scores the candidate screenshot against the reference in [-1, 1],
// 1 meaning identical. An optional crop region masks out dynamic screen
// areas like clocks and signal bars. The region must fit the reference; if
// it falls outside the candidate because the two differ in size, the
// candidate is resized to the reference's dimensions and cropped again.
func Compare(referencePath, candidatePath string, region *config.CropRegion) (float64, error) {
	ref, err := loadGray(referencePath)
	if err != nil {
		return 0, err
	}
	cand, err := loadGray(candidatePath)
	if err != nil {
		return 0, err
	}

	if region != nil {
		ref, cand, err = cropPair(ref, cand, *region)
		if err != nil {
			return 0, err
		}
	}
	if !ref.Bounds().Size().Eq(cand.Bounds().Size()) {
		cand = resize(cand, ref.Bounds().Dx(), ref.Bounds().Dy())
	}
	return ssim(ref, cand), nil
}

// cropPair applies the same region to both images. The region must fit the
// reference; a candidate of a different size is resized to match before
// cropping.
func cropPair(ref, cand *image.Gray, region config.CropRegion) (*image.Gray, *image.Gray, error) {
	refCrop, err := cropOne(ref, region, "reference")
	if err != nil {
		return nil, nil, err
	}
	candCrop, err := cropOne(cand, region, "candidate")
	if err != nil {
		if cand.Bounds().Size().Eq(ref.Bounds().Size()) {
			return nil, nil, err
		}
		cand = resize(cand, ref.Bounds().Dx(), ref.Bounds().Dy())
		candCrop, err = cropOne(cand, region, "resized candidate")
		if err != nil {
			return nil, nil, err
		}
	}
	return refCrop, candCrop, nil
}

func cropOne(img *image.Gray, region config.CropRegion, origin string) (*image.Gray, error) {
	if !region.Valid() {
		return nil, fmt.Errorf("invalid crop region %+v", region)
	}
	rect := image.Rect(region.X, region.Y, region.X+region.Width, region.Y+region.Height)
	if !rect.In(img.Bounds()) {
		return nil, fmt.Errorf("crop region %v out of bounds for %s image %v", rect, origin, img.Bounds().Size())
	}
	return img.SubImage(rect).(*image.Gray), nil
}

func loadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return toGray(img), nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray
}

// resize scales img to w x h with nearest-neighbour sampling. Screenshots of
// the same screen at different resolutions only need a rough rescale before
// the similarity score decides.
func resize(img *image.Gray, w, h int) *image.Gray {
	src := img.Bounds()
	if src.Dx() == w && src.Dy() == h {
		return img
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*src.Dy()/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*src.Dx()/w
			out.SetGray(x, y, img.GrayAt(sx, sy))
		}
	}
	return out
}

// ssim computes a global structural-similarity index. Both images must be
// the same size.
func ssim(a, b *image.Gray) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	w, h := ab.Dx(), ab.Dy()
	if w == 0 || h == 0 {
		return -1
	}

	n := float64(w * h)
	var sumA, sumB float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sumA += float64(a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y)
			sumB += float64(b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y)
		}
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			da := float64(a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y) - muA
			db := float64(b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y) - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	return num / den
}
