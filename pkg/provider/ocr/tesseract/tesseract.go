// Package tesseract implements ocr.Engine with Tesseract (via gosseract) and
// OpenCV (via gocv).
//
// A frame's RGBA pixels are copied once into an OpenCV matrix, converted to
// 8-bit grayscale in place and handed to Tesseract as a raw PGM buffer: a
// short text header followed by the unmodified pixel rows. There is no lossy
// or compressed intermediate format.
//
// Both libraries keep per-thread state, so each Engine must stay on the OS
// thread it was created on.
package tesseract

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/types"
)

// Config holds the engine settings.
type Config struct {
	// Language is the Tesseract language code, e.g. "eng" or "eng+deu".
	// Defaults to "eng".
	Language string

	// PageSegMode is the Tesseract page segmentation mode. Defaults to
	// gosseract.PSM_AUTO.
	PageSegMode gosseract.PageSegMode

	// TessdataPrefix overrides the directory Tesseract loads models from.
	TessdataPrefix string

	// Whitelist restricts recognition to these characters when non-empty.
	Whitelist string
}

// Engine is a Tesseract-backed ocr.Engine.
type Engine struct {
	client *gosseract.Client
	closed bool
}

// NewFactory returns an ocr.Factory building engines with cfg.
func NewFactory(cfg Config) ocr.Factory {
	return func() (ocr.Engine, error) { return New(cfg) }
}

// New creates a Tesseract client configured with cfg. It must be called on the
// thread that will use the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}

	client := gosseract.NewClient()
	if cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract: set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(cfg.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract: set language %q: %w", cfg.Language, err)
	}
	if err := client.SetPageSegMode(cfg.PageSegMode); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract: set page seg mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract: set whitelist: %w", err)
		}
	}
	return &Engine{client: client}, nil
}

// image is a grayscale OpenCV matrix.
type image struct {
	gray   gocv.Mat
	w, h   int
	closed bool
}

func (i *image) Width() int  { return i.w }
func (i *image) Height() int { return i.h }

func (i *image) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.gray.Close()
}

// NewImage implements ocr.Engine.
func (e *Engine) NewImage(px *types.Pixels) (ocr.Image, error) {
	if e.closed {
		return nil, errors.New("tesseract: engine closed")
	}
	w, h := px.Width(), px.Height()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("tesseract: empty image %dx%d", w, h)
	}

	rgba := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC4)
	defer rgba.Close()
	buf, err := rgba.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("tesseract: map native buffer: %w", err)
	}
	if n := px.CopyTo(buf); n != w*h*4 {
		return nil, fmt.Errorf("tesseract: copied %d of %d bytes", n, w*h*4)
	}

	gray := gocv.NewMat()
	gocv.CvtColor(rgba, &gray, gocv.ColorRGBAToGray)
	if gray.Empty() {
		gray.Close()
		return nil, errors.New("tesseract: grayscale conversion produced no data")
	}
	return &image{gray: gray, w: w, h: h}, nil
}

// Recognize implements ocr.Engine.
func (e *Engine) Recognize(img ocr.Image) (ocr.Page, error) {
	if e.closed {
		return ocr.Page{}, errors.New("tesseract: engine closed")
	}
	im, ok := img.(*image)
	if !ok {
		return ocr.Page{}, fmt.Errorf("tesseract: foreign image type %T", img)
	}
	if im.closed {
		return ocr.Page{}, errors.New("tesseract: image closed")
	}
	if err := e.client.SetImageFromBytes(pgm(im)); err != nil {
		return ocr.Page{}, fmt.Errorf("tesseract: set image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Page{}, fmt.Errorf("tesseract: bounding boxes: %w", err)
	}
	return groupLines(boxes), nil
}

// Close implements ocr.Engine.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.client.Close()
}

// pgm wraps the grayscale rows in a binary PGM header.
func pgm(im *image) []byte {
	header := "P5\n" + strconv.Itoa(im.w) + " " + strconv.Itoa(im.h) + "\n255\n"
	pix := im.gray.ToBytes()
	out := make([]byte, 0, len(header)+len(pix))
	out = append(out, header...)
	return append(out, pix...)
}

// groupLines folds word boxes into lines keyed by (block, paragraph, line).
// Tesseract reports words in reading order, so consecutive boxes with the same
// key belong to one line.
func groupLines(boxes []gosseract.BoundingBox) ocr.Page {
	var page ocr.Page
	type key struct{ block, par, line int }
	var cur key
	for i, b := range boxes {
		if b.Word == "" {
			continue
		}
		k := key{b.BlockNum, b.ParNum, b.LineNum}
		if i == 0 || k != cur || len(page.Lines) == 0 {
			page.Lines = append(page.Lines, ocr.Line{})
			cur = k
		}
		last := &page.Lines[len(page.Lines)-1]
		last.Words = append(last.Words, ocr.Word{
			Text:       b.Word,
			Box:        b.Box,
			Confidence: b.Confidence / 100,
		})
	}
	return page
}

var _ ocr.Engine = (*Engine)(nil)
