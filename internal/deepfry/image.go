package deepfry

import (
	"image"
	"image/color"
)

// Image is an owned 8-bit RGB buffer, three bytes per pixel, rows packed
// without padding.
type Image struct {
	Pix    []uint8
	Width  int
	Height int
}

func NewImage(width, height int) *Image {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Image{
		Pix:    make([]uint8, 3*width*height),
		Width:  width,
		Height: height,
	}
}

// FromImage copies src into a new RGB buffer. Alpha is discarded without
// blending, as with a straight RGBA to RGB conversion.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := NewImage(b.Dx(), b.Dy())

	switch s := src.(type) {
	case *image.NRGBA:
		for y := 0; y < dst.Height; y++ {
			row := s.Pix[s.PixOffset(b.Min.X, b.Min.Y+y):]
			out := dst.Row(y)
			for x := 0; x < dst.Width; x++ {
				copy(out[3*x:3*x+3], row[4*x:4*x+3])
			}
		}
	default:
		for y := 0; y < dst.Height; y++ {
			out := dst.Row(y)
			for x := 0; x < dst.Width; x++ {
				c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				out[3*x], out[3*x+1], out[3*x+2] = c.R, c.G, c.B
			}
		}
	}
	return dst
}

// Row returns the bytes of row y.
func (m *Image) Row(y int) []uint8 {
	stride := 3 * m.Width
	return m.Pix[y*stride : (y+1)*stride]
}

func (m *Image) RGBAt(x, y int) (uint8, uint8, uint8) {
	i := 3 * (y*m.Width + x)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	i := 3 * (y*m.Width + x)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

func (m *Image) Clone() *Image {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{Pix: pix, Width: m.Width, Height: m.Height}
}

func (m *Image) ColorModel() color.Model { return color.RGBAModel }

func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(m.Bounds()) {
		return color.RGBA{}
	}
	r, g, b := m.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Opaque lets encoders such as image/png write an RGB file without alpha.
func (m *Image) Opaque() bool { return true }
