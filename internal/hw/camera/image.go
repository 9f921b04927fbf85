package camera

import (
	"fmt"
	"image"
	"image/color"
)

// Image is a single channel luminance image. Row 0 is the bottom row,
// so y grows upwards like the offsets computed from it.
type Image struct {
	Width  int
	Height int
	Pix    []float64 // row-major, len = Width*Height
}

// NewImage allocates a black image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the pixel value at (x, y). Out of bounds reads return 0.
func (m *Image) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

// Set stores a pixel value. Out of bounds writes are ignored.
func (m *Image) Set(x, y int, v float64) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

// Contains reports whether (x, y) lies inside the image.
func (m *Image) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

func (m *Image) String() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// FromImage converts a standard library image into a luminance image,
// flipping it so that row 0 becomes the bottom row.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := NewImage(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
			dst.Set(x-b.Min.X, b.Max.Y-1-y, float64(g.Y))
		}
	}
	return dst
}
