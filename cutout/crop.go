package cutout

import (
	"fmt"
	"image"

	"github.com/chaos-io/cutout/mask"
)

// ForegroundBounds 找出所有掩码值 > threshold 的像素的最小外接矩形。
// 没有这样的像素时 ok 为 false
func ForegroundBounds(m *mask.Mask, threshold uint8) (bbox image.Rectangle, ok bool) {
	if m.Validate() != nil {
		return image.Rectangle{}, false
	}
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1

	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v <= threshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Crop 把合成后的图裁到前景外接矩形，返回新图和矩形（掩码坐标）。
// 没有前景像素时原样返回整图，不视为错误
func Crop(img *image.NRGBA, m *mask.Mask, threshold uint8) (*image.NRGBA, image.Rectangle, error) {
	if img == nil {
		return nil, image.Rectangle{}, fmt.Errorf("%w: image is nil", ErrCroppingFailed)
	}
	if err := m.Validate(); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("%w: %w", ErrCroppingFailed, err)
	}
	b := img.Bounds()
	if !m.Matches(b) {
		return nil, image.Rectangle{}, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			ErrCroppingFailed, m.Width, m.Height, b.Dx(), b.Dy())
	}

	bbox, ok := ForegroundBounds(m, threshold)
	if !ok {
		return img, m.Bounds(), nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, bbox.Dx(), bbox.Dy()))
	n := bbox.Dx() * 4
	for y := 0; y < bbox.Dy(); y++ {
		off := img.PixOffset(b.Min.X+bbox.Min.X, b.Min.Y+bbox.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], img.Pix[off:off+n])
	}
	return dst, bbox, nil
}
