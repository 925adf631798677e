package segment

import (
	"context"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/chaos-io/cutout/mask"
)

// Resized downscales the input so its longest side is at most MaxSide
// before handing it to Provider, then scales the mask back to the input
// size.
type Resized struct {
	Provider Provider
	MaxSide  int
}

func (r *Resized) Segment(ctx context.Context, img image.Image) (*mask.Mask, error) {
	if img == nil || r.MaxSide <= 0 {
		return r.Provider.Segment(ctx, img)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= r.MaxSide {
		return r.Provider.Segment(ctx, img)
	}

	scale := float64(r.MaxSide) / float64(longest)
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	small := resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
	m, err := r.Provider.Segment(ctx, small)
	if err != nil {
		return nil, err
	}
	return scaleMask(m, w, h), nil
}

func (r *Resized) Close() error {
	return closeProvider(r.Provider)
}

// scaleMask resamples m to w×h. A mask that already has that size is
// returned as is.
func scaleMask(m *mask.Mask, w, h int) *mask.Mask {
	if m == nil || (m.Width == w && m.Height == h) || m.Validate() != nil {
		return m
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), m.Gray(), m.Bounds(), draw.Src, nil)
	return mask.FromGray(dst)
}
