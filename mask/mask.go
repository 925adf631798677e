package mask

import (
	"fmt"
	"image"
	"image/color"
)

// Mask is a single-channel foreground confidence map aligned 1:1 with an
// image's pixel grid. 0 means background, 255 means foreground.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// New creates a zeroed (all background) mask.
func New(width, height int) *Mask {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// FromGray copies a grayscale image into a mask. The mask origin is the
// image's Bounds().Min.
func FromGray(g *image.Gray) *Mask {
	b := g.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := g.PixOffset(b.Min.X, y+b.Min.Y)
		copy(m.Pix[y*m.Width:(y+1)*m.Width], g.Pix[row:row+m.Width])
	}
	return m
}

// FromImage reads a mask from any image. Gray images are copied as-is,
// everything else goes through the luminance of color.GrayModel.
func FromImage(img image.Image) *Mask {
	if g, ok := img.(*image.Gray); ok {
		return FromGray(g)
	}
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.GrayModel.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.Gray)
			m.Pix[y*m.Width+x] = c.Y
		}
	}
	return m
}

// FromAlpha builds a mask from an image's alpha channel.
func FromAlpha(img image.Image) *Mask {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	if n, ok := img.(*image.NRGBA); ok {
		for y := 0; y < m.Height; y++ {
			row := n.PixOffset(b.Min.X, y+b.Min.Y)
			for x := 0; x < m.Width; x++ {
				m.Pix[y*m.Width+x] = n.Pix[row+x*4+3]
			}
		}
		return m
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			_, _, _, a := img.At(x+b.Min.X, y+b.Min.Y).RGBA()
			m.Pix[y*m.Width+x] = uint8(a >> 8)
		}
	}
	return m
}

// Bounds returns the mask dimensions as a rectangle anchored at (0,0).
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// At returns the value at (x, y), or 0 outside the mask.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set writes the value at (x, y). Out-of-range coordinates are ignored.
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// FillRect sets every pixel of r (clipped to the mask) to v.
func (m *Mask) FillRect(r image.Rectangle, v uint8) {
	r = r.Intersect(m.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = v
		}
	}
}

// Validate reports a mask whose buffer does not cover its dimensions.
func (m *Mask) Validate() error {
	if m == nil {
		return fmt.Errorf("mask is nil")
	}
	if m.Width < 0 || m.Height < 0 {
		return fmt.Errorf("invalid mask size %dx%d", m.Width, m.Height)
	}
	if len(m.Pix) != m.Width*m.Height {
		return fmt.Errorf("mask buffer has %d bytes, want %d (%dx%d)", len(m.Pix), m.Width*m.Height, m.Width, m.Height)
	}
	return nil
}

// Matches reports whether the mask has the same width and height as r.
func (m *Mask) Matches(r image.Rectangle) bool {
	return m.Width == r.Dx() && m.Height == r.Dy()
}

// Gray returns the mask as a grayscale image.
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(m.Bounds())
	copy(g.Pix, m.Pix)
	return g
}
