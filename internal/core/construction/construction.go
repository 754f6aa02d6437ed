// Package construction holds construction-industry terminology: acronym
// expansion, standards references, document type and discipline detection.
package construction

import (
	_ "embed"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed glossary.yaml
var glossaryYAML []byte

const (
	classifyWindow   = 5000
	disciplineWindow = 10000
	sectionWindow    = 500
)

type Glossary struct {
	abbreviations    map[string]string
	standards        map[string]string
	standardPatterns []*regexp.Regexp
	docTypes         []patternGroup
	disciplines      []patternGroup
	sectionPatterns  []*regexp.Regexp
}

type patternGroup struct {
	name     string
	patterns []*regexp.Regexp
}

type glossaryFile struct {
	Abbreviations    map[string]string   `yaml:"abbreviations"`
	StandardPatterns []string            `yaml:"standard_patterns"`
	Standards        map[string]string   `yaml:"standards"`
	DocTypes         map[string][]string `yaml:"doc_types"`
	Disciplines      map[string][]string `yaml:"disciplines"`
	SectionPatterns  []string            `yaml:"section_patterns"`
}

var (
	defaultOnce     sync.Once
	defaultGlossary *Glossary
)

// Default returns the glossary compiled from the embedded YAML.
func Default() *Glossary {
	defaultOnce.Do(func() {
		g, err := Load(glossaryYAML)
		if err != nil {
			panic(fmt.Sprintf("construction: embedded glossary: %v", err))
		}
		defaultGlossary = g
	})
	return defaultGlossary
}

func Load(data []byte) (*Glossary, error) {
	var f glossaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse glossary: %w", err)
	}
	g := &Glossary{
		abbreviations: make(map[string]string, len(f.Abbreviations)),
		standards:     make(map[string]string, len(f.Standards)),
	}
	for k, v := range f.Abbreviations {
		g.abbreviations[strings.ToUpper(k)] = v
	}
	for k, v := range f.Standards {
		g.standards[normalizeStandard(k)] = v
	}
	var err error
	if g.standardPatterns, err = compileAll(f.StandardPatterns); err != nil {
		return nil, err
	}
	if g.sectionPatterns, err = compileAll(f.SectionPatterns); err != nil {
		return nil, err
	}
	if g.docTypes, err = compileGroups(f.DocTypes); err != nil {
		return nil, err
	}
	if g.disciplines, err = compileGroups(f.Disciplines); err != nil {
		return nil, err
	}
	return g, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", e, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// compileGroups sorts groups by name so scoring ties resolve the same way
// on every run.
func compileGroups(in map[string][]string) ([]patternGroup, error) {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]patternGroup, 0, len(names))
	for _, name := range names {
		res, err := compileAll(in[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, patternGroup{name: name, patterns: res})
	}
	return out, nil
}

// Expansion returns the long form of an abbreviation.
func (g *Glossary) Expansion(abbr string) (string, bool) {
	v, ok := g.abbreviations[strings.ToUpper(abbr)]
	return v, ok
}

// IsAbbreviation reports whether word is a known upper-case abbreviation.
func (g *Glossary) IsAbbreviation(word string) bool {
	if word == "" || word != strings.ToUpper(word) {
		return false
	}
	_, ok := g.abbreviations[word]
	return ok
}

var upperToken = regexp.MustCompile(`\b[A-Z]{2,6}\b`)

// ExpandQuery appends the long form of every upper-case abbreviation found
// in the query. The original text is always kept in front.
func (g *Glossary) ExpandQuery(query string) string {
	seen := map[string]bool{}
	var parts []string
	for _, tok := range upperToken.FindAllString(query, -1) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if exp, ok := g.abbreviations[tok]; ok {
			parts = append(parts, tok+" = "+exp)
		}
	}
	if len(parts) == 0 {
		return query
	}
	return query + " [" + strings.Join(parts, "; ") + "]"
}

var spaces = regexp.MustCompile(`\s+`)

func normalizeStandard(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = spaces.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " /", "/")
	return strings.ReplaceAll(s, "/ ", "/")
}

// ExtractStandards returns the sorted, de-duplicated standards cited in text.
func (g *Glossary) ExtractStandards(text string) []string {
	set := map[string]bool{}
	for _, re := range g.standardPatterns {
		for _, m := range re.FindAllString(text, -1) {
			set[normalizeStandard(m)] = true
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

var yearSuffix = regexp.MustCompile(`:\d{4}$`)
var partSuffix = regexp.MustCompile(`\.\d+$`)

// StandardDescription looks up a standard, falling back to its base number.
func (g *Glossary) StandardDescription(code string) (string, bool) {
	n := yearSuffix.ReplaceAllString(normalizeStandard(code), "")
	if d, ok := g.standards[n]; ok {
		return d, true
	}
	for partSuffix.MatchString(n) {
		n = partSuffix.ReplaceAllString(n, "")
		if d, ok := g.standards[n]; ok {
			return d, true
		}
	}
	return "", false
}

// ClassifyDocument scores every document type against the head of the text
// and returns the best type with its share of all matches.
func (g *Glossary) ClassifyDocument(text string) (string, float64) {
	sample := head(text, classifyWindow)
	best, bestScore, total := "", 0, 0
	for _, grp := range g.docTypes {
		score := grp.count(sample)
		total += score
		if score > bestScore {
			best, bestScore = grp.name, score
		}
	}
	if bestScore == 0 {
		return "general", 0
	}
	conf := float64(bestScore) / float64(total)
	return best, math.Round(conf*1000) / 1000
}

// DetectDiscipline returns the dominant trade, or "" when none matches.
func (g *Glossary) DetectDiscipline(text string) string {
	sample := head(text, disciplineWindow)
	best, bestScore := "", 0
	for _, grp := range g.disciplines {
		if score := grp.count(sample); score > bestScore {
			best, bestScore = grp.name, score
		}
	}
	return best
}

// ExtractSectionReference returns the first clause/section heading near the
// start of text.
func (g *Glossary) ExtractSectionReference(text string) string {
	sample := head(text, sectionWindow)
	for _, re := range g.sectionPatterns {
		m := re.FindStringSubmatch(sample)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return strings.TrimSpace(m[1])
		}
		return strings.TrimSpace(m[0])
	}
	return ""
}

// HasSectionStructure reports whether any line of text looks like a heading.
func (g *Glossary) HasSectionStructure(text string) bool {
	for _, re := range g.sectionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (p patternGroup) count(text string) int {
	n := 0
	for _, re := range p.patterns {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// head cuts text to at most n bytes without splitting a rune.
func head(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !isRuneStart(text[n]) {
		n--
	}
	return text[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
