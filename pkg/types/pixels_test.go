package types

import (
	"image"
	"image/color"
	"testing"
	"time"
)

func TestPixels_Accessors(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	p := NewPixels(img)
	if p.Width() != 3 || p.Height() != 2 || p.Len() != 6 {
		t.Fatalf("dims = %dx%d len %d, want 3x2 len 6", p.Width(), p.Height(), p.Len())
	}
	r, g, b, a := p.RGBA(5)
	if r != 10 || g != 20 || b != 30 || a != 255 {
		t.Errorf("RGBA(5) = %d,%d,%d,%d", r, g, b, a)
	}
}

func TestPixels_CopyToPaddedStride(t *testing.T) {
	t.Parallel()

	// A sub-image keeps the parent's stride, so rows are padded.
	parent := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range parent.Pix {
		parent.Pix[i] = byte(i)
	}
	sub := parent.SubImage(image.Rect(0, 0, 2, 2)).(*image.RGBA)

	p := NewPixels(sub)
	dst := make([]byte, 2*2*4)
	if n := p.CopyTo(dst); n != len(dst) {
		t.Fatalf("CopyTo wrote %d bytes, want %d", n, len(dst))
	}
	want := append(append([]byte{}, parent.Pix[0:8]...), parent.Pix[16:24]...)
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestPixels_SameSize(t *testing.T) {
	t.Parallel()

	a := NewPixels(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	b := NewPixels(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	c := NewPixels(image.NewRGBA(image.Rect(0, 0, 4, 5)))
	if !a.SameSize(b) {
		t.Error("equal dims reported different")
	}
	if a.SameSize(c) {
		t.Error("different dims reported equal")
	}
}

func TestNewCapturedFrame(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0)
	f := NewCapturedFrame(7, image.NewRGBA(image.Rect(0, 0, 2, 2)), 1, &WindowContext{Title: "x"}, at)
	if f.Seq != 7 || f.MonitorIndex != 1 || !f.CapturedAt.Equal(at) {
		t.Errorf("unexpected frame fields: %+v", f)
	}
	if f.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("frame ID not assigned")
	}
	g := NewCapturedFrame(8, image.NewRGBA(image.Rect(0, 0, 2, 2)), 1, nil, at)
	if f.ID == g.ID {
		t.Error("frame IDs collide")
	}
}

func TestBoundingBox_RoundTrip(t *testing.T) {
	t.Parallel()

	r := image.Rect(5, 6, 15, 26)
	b := BoxFromRect(r)
	if b != (BoundingBox{X: 5, Y: 6, Width: 10, Height: 20}) {
		t.Errorf("BoxFromRect = %+v", b)
	}
	if b.Rect() != r {
		t.Errorf("Rect() = %v, want %v", b.Rect(), r)
	}
}
