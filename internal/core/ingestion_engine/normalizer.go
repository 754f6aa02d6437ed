package ingestion_engine

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/core/construction"
)

const (
	edgeLines         = 2
	headerRatio       = 0.6
	boilerplateRatio  = 0.7
	minHeaderLen      = 4
	minBoilerplateLen = 5
	standardsLookback = 10
)

// Normalizer turns extracted pages into the canonical document. It has no
// state besides the glossary, so identical input always gives identical
// output.
type Normalizer struct {
	glossary *construction.Glossary
}

func NewNormalizer(g *construction.Glossary) *Normalizer {
	if g == nil {
		g = construction.Default()
	}
	return &Normalizer{glossary: g}
}

func (n *Normalizer) Normalize(doc *core.ExtractedDocument) *core.NormalizedDocument {
	out := &core.NormalizedDocument{Outline: append([]string(nil), doc.Outline...)}

	pages := make([]core.NormalizedPage, len(doc.Pages))
	firstSeen := map[string]int{}
	for i, p := range doc.Pages {
		text := n.dehyphenate(collapseWhitespace(clean(p.Text)))
		pages[i] = core.NormalizedPage{Number: p.Number, Text: text}
		if text == "" {
			continue
		}
		if orig, ok := firstSeen[text]; ok {
			pages[i].DuplicateOf = orig
		} else {
			firstSeen[text] = p.Number
		}
	}

	headers, footers, boilerplate := detectRepeated(pages)
	remove := map[string]bool{}
	for _, set := range [][]string{headers, footers, boilerplate} {
		for _, l := range set {
			remove[l] = true
		}
	}
	for i := range pages {
		if pages[i].Text == "" || len(remove) == 0 {
			continue
		}
		pages[i].Text = removeLines(pages[i].Text, remove)
		if pages[i].Text == "" {
			pages[i].BoilerplateOnly = true
		}
	}
	// pages that only differed in their headers are copies too
	if len(remove) > 0 {
		markCopies(pages)
	}

	out.Pages = pages
	out.RemovedHeaders = headers
	out.RemovedFooters = footers
	out.RemovedBoilerplate = boilerplate
	return out
}

// clean applies NFKC and drops control characters other than newlines and
// tabs. Carriage returns and form feeds become newlines.
func clean(s string) string {
	s = norm.NFKC.String(s)
	s = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\f", "\n").Replace(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\u00ad' {
			return -1
		}
		return r
	}, s)
}

var (
	hyphenBreak     = regexp.MustCompile(`([A-Za-z]+)-\n([A-Za-z]+)`)
	standardsTail   = regexp.MustCompile(`\b(AS|NZS|BCA|NCC)\s*[-/]?\s*$`)
	runOfSpaces     = regexp.MustCompile(`[ \t]+`)
	runOfBlankLines = regexp.MustCompile(`\n{3,}`)
)

// dehyphenate joins words split across a line break. Abbreviations and
// standards prefixes keep their hyphen; digits never match.
func (n *Normalizer) dehyphenate(s string) string {
	locs := hyphenBreak.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range locs {
		before, after := s[m[2]:m[3]], s[m[4]:m[5]]
		b.WriteString(s[last:m[0]])
		last = m[1]

		lookback := s[max(0, m[3]-standardsLookback):m[3]]
		if standardsTail.MatchString(strings.ToUpper(lookback)) || n.protected(before, after) {
			b.WriteString(s[m[0]:m[1]])
			continue
		}
		b.WriteString(before + after)
	}
	b.WriteString(s[last:])
	return b.String()
}

func (n *Normalizer) protected(before, after string) bool {
	if n.glossary.IsAbbreviation(before) || n.glossary.IsAbbreviation(after) {
		return true
	}
	// two upper-case halves read as a compound code such as HVAC-MEP
	return isUpper(before) && isUpper(after)
}

func isUpper(s string) bool {
	return len(s) > 1 && strings.ToUpper(s) == s
}

// collapseWhitespace squeezes spaces, trims every line and keeps at most
// one blank line between paragraphs.
func collapseWhitespace(s string) string {
	s = runOfSpaces.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = runOfBlankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// detectRepeated counts lines over distinct, non-empty pages only, so a
// page copied verbatim does not make its own lines look like boilerplate.
func detectRepeated(pages []core.NormalizedPage) (headers, footers, boilerplate []string) {
	headerCount := map[string]int{}
	footerCount := map[string]int{}
	lineCount := map[string]int{}
	total := 0
	for _, p := range pages {
		if p.DuplicateOf != 0 || p.Text == "" {
			continue
		}
		total++
		lines := nonEmptyLines(p.Text)
		countOnce(headerCount, lines[:min(edgeLines, len(lines))])
		countOnce(footerCount, lines[max(0, len(lines)-edgeLines):])
		countOnce(lineCount, lines)
	}
	if total < 2 {
		return nil, nil, nil
	}

	edgeMin := max(2, int(float64(total)*headerRatio))
	bodyMin := max(2, int(float64(total)*boilerplateRatio))
	headers = atLeast(headerCount, edgeMin, minHeaderLen)
	footers = atLeast(footerCount, edgeMin, minHeaderLen)

	edge := map[string]bool{}
	for _, l := range append(append([]string{}, headers...), footers...) {
		edge[l] = true
	}
	for _, l := range atLeast(lineCount, bodyMin, minBoilerplateLen) {
		if !edge[l] {
			boilerplate = append(boilerplate, l)
		}
	}
	return headers, footers, boilerplate
}

func markCopies(pages []core.NormalizedPage) {
	firstSeen := map[string]int{}
	for i, p := range pages {
		if p.Text == "" || p.DuplicateOf != 0 {
			continue
		}
		if orig, ok := firstSeen[p.Text]; ok {
			pages[i].DuplicateOf = orig
		} else {
			firstSeen[p.Text] = p.Number
		}
	}
}

func countOnce(counts map[string]int, lines []string) {
	seen := map[string]bool{}
	for _, l := range lines {
		if !seen[l] {
			seen[l] = true
			counts[l]++
		}
	}
}

// atLeast returns the sorted lines seen on at least pages pages and at
// least minLen runes long.
func atLeast(counts map[string]int, pages, minLen int) []string {
	var out []string
	for l, c := range counts {
		if c >= pages && len([]rune(l)) >= minLen {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

func removeLines(text string, remove map[string]bool) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if !remove[strings.TrimSpace(l)] {
			kept = append(kept, l)
		}
	}
	return collapseWhitespace(strings.Join(kept, "\n"))
}
