package cutout

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/chaos-io/cutout/mask"
)

// Composite 用掩码作为 alpha 通道生成新图：颜色取自原图，alpha 等于掩码值。
// 输出坐标从 (0,0) 开始，原图不会被修改
func Composite(img image.Image, m *mask.Mask) (*image.NRGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: image is nil", ErrCompositingFailed)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompositingFailed, err)
	}
	b := img.Bounds()
	if !m.Matches(b) {
		return nil, fmt.Errorf("%w: mask %dx%d does not match image %dx%d",
			ErrCompositingFailed, m.Width, m.Height, b.Dx(), b.Dy())
	}

	dst := copyNRGBA(img)
	w := b.Dx()
	for y := 0; y < m.Height; y++ {
		row := y * dst.Stride
		src := m.Pix[y*w : (y+1)*w]
		for x, a := range src {
			dst.Pix[row+x*4+3] = a
		}
	}
	return dst, nil
}

// copyNRGBA 把任意图片复制成以 (0,0) 为原点的 NRGBA。
// NRGBA 输入按字节复制，保留透明像素下的颜色
func copyNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		n := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], src.Pix[off:off+n])
		}
		return dst
	}

	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
