package types

import "image"

// Pixels is a read-only RGBA pixel buffer.
//
// The backing slice is unexported so that a frame can be shared between
// goroutines without copying: nothing outside this type can write to it.
type Pixels struct {
	pix    []byte
	stride int
	width  int
	height int
}

// NewPixels takes ownership of img's buffer. img must not be modified
// afterwards. A nil img yields an empty buffer.
func NewPixels(img *image.RGBA) *Pixels {
	if img == nil {
		return &Pixels{}
	}
	b := img.Bounds()
	return &Pixels{
		pix:    img.Pix,
		stride: img.Stride,
		width:  b.Dx(),
		height: b.Dy(),
	}
}

// Width returns the image width in pixels.
func (p *Pixels) Width() int { return p.width }

// Height returns the image height in pixels.
func (p *Pixels) Height() int { return p.height }

// Stride returns the number of bytes between vertically adjacent pixels.
func (p *Pixels) Stride() int { return p.stride }

// Len returns the number of pixels (width * height).
func (p *Pixels) Len() int { return p.width * p.height }

// SameSize reports whether p and o have identical dimensions.
func (p *Pixels) SameSize(o *Pixels) bool {
	return p.width == o.width && p.height == o.height
}

// RGBA returns the channels of the i-th pixel in row-major order.
func (p *Pixels) RGBA(i int) (r, g, b, a uint8) {
	y, x := i/p.width, i%p.width
	off := y*p.stride + x*4
	s := p.pix[off : off+4 : off+4]
	return s[0], s[1], s[2], s[3]
}

// Row returns a copy-free view of row y's RGBA bytes. The returned slice must
// be treated as read-only.
func (p *Pixels) Row(y int) []byte {
	off := y * p.stride
	return p.pix[off : off+p.width*4 : off+p.width*4]
}

// CopyTo copies the pixels into dst as tightly packed RGBA rows
// (width*4 bytes per row) and returns the number of bytes written. When the
// source has no row padding this is a single copy.
func (p *Pixels) CopyTo(dst []byte) int {
	rowLen := p.width * 4
	if p.stride == rowLen {
		return copy(dst, p.pix[:rowLen*p.height])
	}
	n := 0
	for y := 0; y < p.height && n < len(dst); y++ {
		n += copy(dst[n:], p.Row(y))
	}
	return n
}
