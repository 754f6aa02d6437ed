package quality

import (
	"strings"
	"unicode"

	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

// ComputeStats measures the distinct pages of a normalized document.
// Duplicate pages are excluded so they are only reported once, by their
// own check.
func ComputeStats(doc *core.NormalizedDocument) models.TextStats {
	distinct := doc.DistinctPages()
	texts := make([]string, 0, len(distinct))
	for _, p := range distinct {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	full := strings.Join(texts, "\n")

	var total, nonAlpha int
	for _, r := range full {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			nonAlpha++
		}
	}

	st := models.TextStats{
		Chars:         total,
		Words:         len(strings.Fields(full)),
		Pages:         len(doc.Pages),
		DistinctPages: len(distinct),
		Simhash:       FormatSimhash(Simhash(full)),
	}
	if total > 0 {
		st.NonAlphaRatio = round4(float64(nonAlpha) / float64(total))
	}

	var lines int
	unique := map[string]struct{}{}
	for _, l := range strings.Split(full, "\n") {
		if l = strings.TrimSpace(l); l == "" {
			continue
		}
		lines++
		unique[l] = struct{}{}
	}
	if lines > 0 {
		st.RepeatedLineRatio = round4(1 - float64(len(unique))/float64(lines))
	}
	return st
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}
