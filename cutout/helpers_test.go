package cutout

import (
	"context"
	"image"
	"image/color"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/segment"
)

// photo 生成一张不透明、每个像素颜色不同的测试图
func photo(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8(x + y), A: 255})
		}
	}
	return img
}

func blockMask(w, h int, block image.Rectangle, v uint8) *mask.Mask {
	m := mask.New(w, h)
	m.FillRect(block, v)
	return m
}

func fixedFactory(m *mask.Mask, err error) segment.Factory {
	return segment.Static(segment.Func(func(ctx context.Context, img image.Image) (*mask.Mask, error) {
		if err != nil {
			return nil, err
		}
		cp := *m
		cp.Pix = append([]uint8(nil), m.Pix...)
		return &cp, nil
	}))
}
