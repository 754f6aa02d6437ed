package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/core/construction"
	"github.com/markdave123-py/ragready/internal/models"
)

const (
	FindingExactDuplicate      = "EXACT_DUPLICATE"
	FindingNearDuplicate       = "NEAR_DUPLICATE"
	FindingLowTextVolume       = "LOW_TEXT_VOLUME"
	FindingLowTextDensity      = "LOW_TEXT_DENSITY"
	FindingHighNonAlphaRatio   = "HIGH_NON_ALPHA_RATIO"
	FindingUnreadableText      = "UNREADABLE_TEXT"
	FindingRepeatedLines       = "REPEATED_LINES"
	FindingExcessivePageCount  = "EXCESSIVE_PAGE_COUNT"
	FindingDuplicatePages      = "DUPLICATE_PAGE_CONTENT"
	FindingBoilerplateOnlyPage = "BOILERPLATE_ONLY_PAGE"
	FindingNoSectionStructure  = "NO_SECTION_STRUCTURE"
	FindingHeaderFooterRemoval = "HEADER_FOOTER_REMOVAL"
)

// Thresholds tune the built-in checks.
type Thresholds struct {
	MinTextChars          int
	SparsePageChars       int
	SparsePageRatio       float64
	MaxNonAlphaRatio      float64
	MaxRepeatedLineRatio  float64
	MaxPages              int
	GarbledRunLimit       int
	NearDuplicateDistance int
	SectionCheckMinChars  int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTextChars:          300,
		SparsePageChars:       40,
		SparsePageRatio:       0.3,
		MaxNonAlphaRatio:      0.5,
		MaxRepeatedLineRatio:  0.4,
		MaxPages:              1000,
		GarbledRunLimit:       3,
		NearDuplicateDistance: 3,
		SectionCheckMinChars:  2000,
	}
}

// Input is everything a check may look at. Checks never perform I/O.
type Input struct {
	JobID  string
	FileID string
	Doc    *core.NormalizedDocument
	// DuplicateOf names another file of the tenant with byte-identical content.
	DuplicateOf string
	// Neighbors are fingerprints of other files in the same dataset.
	Neighbors []models.Fingerprint
}

// Check is one independent heuristic. It may emit any number of findings.
type Check interface {
	Name() string
	Run(in *Input, st models.TextStats) []models.Finding
}

type checkFunc struct {
	name string
	fn   func(in *Input, st models.TextStats) []models.Finding
}

func (c checkFunc) Name() string { return c.name }
func (c checkFunc) Run(in *Input, st models.TextStats) []models.Finding {
	return c.fn(in, st)
}

// NewCheck adapts a function into a Check.
func NewCheck(name string, fn func(in *Input, st models.TextStats) []models.Finding) Check {
	return checkFunc{name: name, fn: fn}
}

func one(typ string, sev models.Severity, desc, rec string) []models.Finding {
	return []models.Finding{{Type: typ, Severity: sev, Description: desc, Recommendation: rec}}
}

// DefaultChecks returns the built-in battery in report order.
func DefaultChecks(t Thresholds, g *construction.Glossary) []Check {
	return []Check{
		NewCheck("exact_duplicate", func(in *Input, _ models.TextStats) []models.Finding {
			if in.DuplicateOf == "" {
				return nil
			}
			return one(FindingExactDuplicate, models.SeverityCritical,
				fmt.Sprintf("Byte-identical content was already uploaded as file %s.", in.DuplicateOf),
				"Remove duplicates or keep the most complete copy.")
		}),
		NewCheck("near_duplicate", func(in *Input, st models.TextStats) []models.Finding {
			self, err := ParseSimhash(st.Simhash)
			if err != nil || st.Chars == 0 {
				return nil
			}
			var matches []string
			for _, n := range in.Neighbors {
				if n.FileID == in.FileID || n.FileID == in.DuplicateOf || n.Simhash == "" {
					continue
				}
				other, err := ParseSimhash(n.Simhash)
				if err != nil {
					continue
				}
				if d := Hamming(self, other); d <= t.NearDuplicateDistance {
					matches = append(matches, fmt.Sprintf("%s (distance %d)", n.FileID, d))
				}
			}
			if len(matches) == 0 {
				return nil
			}
			if len(matches) > 5 {
				matches = matches[:5]
			}
			return one(FindingNearDuplicate, models.SeverityWarn,
				"Near duplicate of "+strings.Join(matches, ", ")+".",
				"Review similar files to reduce redundancy.")
		}),
		NewCheck("text_volume", func(_ *Input, st models.TextStats) []models.Finding {
			if st.Chars >= t.MinTextChars {
				return nil
			}
			return one(FindingLowTextVolume, models.SeverityWarn,
				fmt.Sprintf("Extracted text is very short (%d characters).", st.Chars),
				"Verify the PDF has selectable text or re-export it.")
		}),
		NewCheck("text_density", func(in *Input, _ models.TextStats) []models.Finding {
			// boilerplate-only pages are reported by their own check
			sparse, total := 0, 0
			for _, p := range in.Doc.DistinctPages() {
				if p.BoilerplateOnly {
					continue
				}
				total++
				if len([]rune(p.Text)) < t.SparsePageChars {
					sparse++
				}
			}
			if total < 2 || float64(sparse)/float64(total) <= t.SparsePageRatio {
				return nil
			}
			return one(FindingLowTextDensity, models.SeverityWarn,
				fmt.Sprintf("%d of %d pages carry almost no text.", sparse, total),
				"Pages may be images or drawings; supply a text-based export.")
		}),
		NewCheck("non_alpha_ratio", func(_ *Input, st models.TextStats) []models.Finding {
			if st.NonAlphaRatio <= t.MaxNonAlphaRatio {
				return nil
			}
			return one(FindingHighNonAlphaRatio, models.SeverityWarn,
				fmt.Sprintf("%.0f%% of characters are not letters, digits or spaces.", st.NonAlphaRatio*100),
				"Clean formatting artifacts or re-export the PDF.")
		}),
		NewCheck("unreadable_text", func(in *Input, _ models.TextStats) []models.Finding {
			runs := 0
			for _, p := range in.Doc.DistinctPages() {
				runs += countGarbledRuns(p.Text)
			}
			if runs < t.GarbledRunLimit {
				return nil
			}
			return one(FindingUnreadableText, models.SeverityWarn,
				fmt.Sprintf("Found %d garbled or unreadable character runs.", runs),
				"The PDF may use unmapped fonts; re-export with embedded fonts.")
		}),
		NewCheck("repeated_lines", func(_ *Input, st models.TextStats) []models.Finding {
			if st.RepeatedLineRatio <= t.MaxRepeatedLineRatio {
				return nil
			}
			return one(FindingRepeatedLines, models.SeverityWarn,
				fmt.Sprintf("%.0f%% of lines are repeats.", st.RepeatedLineRatio*100),
				"Remove recurring headers or footers and reprocess.")
		}),
		NewCheck("page_count", func(_ *Input, st models.TextStats) []models.Finding {
			if st.Pages <= t.MaxPages {
				return nil
			}
			return one(FindingExcessivePageCount, models.SeverityWarn,
				fmt.Sprintf("Document has %d pages.", st.Pages),
				"Split very large documents into logical parts.")
		}),
		NewCheck("duplicate_pages", func(in *Input, _ models.TextStats) []models.Finding {
			var dups []string
			for _, p := range in.Doc.Pages {
				if p.DuplicateOf > 0 {
					dups = append(dups, fmt.Sprintf("%d (copy of %d)", p.Number, p.DuplicateOf))
				}
			}
			if len(dups) == 0 {
				return nil
			}
			return one(FindingDuplicatePages, models.SeverityWarn,
				"Pages repeat earlier content verbatim: "+strings.Join(dups, ", ")+".",
				"Duplicate pages are excluded from chunking; remove them from the source.")
		}),
		NewCheck("boilerplate_pages", func(in *Input, _ models.TextStats) []models.Finding {
			var pages []string
			for _, p := range in.Doc.Pages {
				if p.BoilerplateOnly && p.DuplicateOf == 0 {
					pages = append(pages, fmt.Sprint(p.Number))
				}
			}
			if len(pages) == 0 {
				return nil
			}
			return one(FindingBoilerplateOnlyPage, models.SeverityInfo,
				"Pages contain only repeated boilerplate: "+strings.Join(pages, ", ")+".", "")
		}),
		NewCheck("section_structure", func(in *Input, st models.TextStats) []models.Finding {
			if st.Chars < t.SectionCheckMinChars || len(in.Doc.Outline) > 0 {
				return nil
			}
			for _, p := range in.Doc.DistinctPages() {
				if g.HasSectionStructure(p.Text) {
					return nil
				}
			}
			return one(FindingNoSectionStructure, models.SeverityInfo,
				"No clause, section or numbered headings were detected.",
				"Citations will reference pages only.")
		}),
		NewCheck("header_footer_removal", func(in *Input, _ models.TextStats) []models.Finding {
			if len(in.Doc.RemovedHeaders) == 0 && len(in.Doc.RemovedFooters) == 0 {
				return nil
			}
			return one(FindingHeaderFooterRemoval, models.SeverityInfo,
				fmt.Sprintf("Removed %d repeated header and %d footer lines during normalization.",
					len(in.Doc.RemovedHeaders), len(in.Doc.RemovedFooters)),
				"Review the cleaned output to ensure important data was preserved.")
		}),
	}
}

var cidRun = regexp.MustCompile(`\(cid:\d+\)|\x{FFFD}+`)

// countGarbledRuns counts replacement characters, unmapped (cid:N) glyphs
// and runs of six or more mixed symbols. Runs of one repeated symbol, such
// as dot leaders in a table of contents, are not counted.
func countGarbledRuns(text string) int {
	n := len(cidRun.FindAllStringIndex(text, -1))
	var run []rune
	flush := func() {
		if len(run) >= 6 && distinct(run) >= 3 {
			n++
		}
		run = run[:0]
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '\uFFFD' {
			flush()
			continue
		}
		run = append(run, r)
	}
	flush()
	return n
}

func distinct(rs []rune) int {
	seen := map[rune]struct{}{}
	for _, r := range rs {
		seen[r] = struct{}{}
	}
	return len(seen)
}
