package recognition

import (
	"image"
	"strings"

	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/types"
)

// BuildResult turns an engine page into a result. Each non-empty line becomes
// one region whose text is its words joined by single spaces, whose box is the
// union of the word boxes and whose confidence is the mean word confidence.
// Regions with confidence below minConfidence are dropped; a region exactly at
// the threshold is kept. FullText joins the kept regions with single spaces.
//
// It returns the number of regions dropped by the confidence filter.
func BuildResult(page ocr.Page, minConfidence float64) (types.RecognitionResult, int) {
	var (
		res      types.RecognitionResult
		texts    []string
		filtered int
	)
	for _, line := range page.Lines {
		region, ok := lineRegion(line)
		if !ok {
			continue
		}
		if region.Confidence < minConfidence {
			filtered++
			continue
		}
		res.Regions = append(res.Regions, region)
		texts = append(texts, region.Text)
	}
	res.FullText = strings.Join(texts, " ")
	return res, filtered
}

func lineRegion(line ocr.Line) (types.TextRegion, bool) {
	var (
		words []string
		box   image.Rectangle
		sum   float64
	)
	for _, w := range line.Words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		if len(words) == 0 {
			box = w.Box.Canon()
		} else {
			box = box.Union(w.Box.Canon())
		}
		words = append(words, text)
		sum += w.Confidence
	}
	if len(words) == 0 {
		return types.TextRegion{}, false
	}
	return types.TextRegion{
		Text:       strings.Join(words, " "),
		Box:        types.BoxFromRect(box),
		Confidence: sum / float64(len(words)),
	}, true
}
