package ingestion_engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/core"
)

func extracted(texts ...string) *core.ExtractedDocument {
	doc := &core.ExtractedDocument{Method: "test"}
	for i, t := range texts {
		doc.Pages = append(doc.Pages, core.ExtractedPage{Number: i + 1, Text: t})
	}
	return doc
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	n := NewNormalizer(nil)

	got := n.Normalize(extracted("  Scope   of\tworks  \r\n\r\n\r\n\r\nThe builder\x00 shall   comply.  "))

	assert.Equal(t, "Scope of works\n\nThe builder shall comply.", got.Pages[0].Text)
}

func TestNormalizeAppliesNFKC(t *testing.T) {
	n := NewNormalizer(nil)

	got := n.Normalize(extracted("ﬁre rated door, 12m²"))

	assert.Equal(t, "fire rated door, 12m2", got.Pages[0].Text)
}

func TestDehyphenate(t *testing.T) {
	n := NewNormalizer(nil)

	cases := map[string]string{
		"the contrac-\ntor shall":     "the contractor shall",
		"wear PPE-\nSWMS compliance":  "wear PPE-\nSWMS compliance",
		"cabling to AS-\nNZS 3000":    "cabling to AS-\nNZS 3000",
		"HVAC-\nMEP coordination":     "HVAC-\nMEP coordination",
		"levels 12-\n14 are complete": "levels 12-\n14 are complete",
	}
	for in, want := range cases {
		assert.Equal(t, want, n.dehyphenate(in), in)
	}
}

func TestNormalizeMarksDuplicatePages(t *testing.T) {
	n := NewNormalizer(nil)
	body := "Site induction is mandatory for all workers."

	got := n.Normalize(extracted(body, body, "Different content on page three."))

	assert.Zero(t, got.Pages[0].DuplicateOf)
	assert.Equal(t, 1, got.Pages[1].DuplicateOf)
	assert.Zero(t, got.Pages[2].DuplicateOf)
	assert.Len(t, got.DistinctPages(), 2)
}

func TestNormalizeRemovesHeadersFootersAndBoilerplate(t *testing.T) {
	n := NewNormalizer(nil)
	var pages []string
	for i := 1; i <= 5; i++ {
		pages = append(pages, fmt.Sprintf(
			"ACME Builders Pty Ltd\nProject Riverside\nBody text unique to page %d.\nUncontrolled when printed\nConfidential document", i))
	}

	got := n.Normalize(extracted(pages...))

	assert.Equal(t, []string{"ACME Builders Pty Ltd", "Project Riverside"}, got.RemovedHeaders)
	assert.Equal(t, []string{"Confidential document", "Uncontrolled when printed"}, got.RemovedFooters)
	assert.Empty(t, got.RemovedBoilerplate)
	for i, p := range got.Pages {
		assert.Equal(t, fmt.Sprintf("Body text unique to page %d.", i+1), p.Text)
	}
}

func TestNormalizeMarksBoilerplateOnlyPages(t *testing.T) {
	n := NewNormalizer(nil)
	legal := "This document is the property of ACME Builders."
	pages := []string{
		legal + "\nFoundations are to be inspected before the pour.",
		legal,
		legal + "\nSteel fixing is to be certified by the engineer.",
	}

	got := n.Normalize(extracted(pages...))

	assert.True(t, got.Pages[1].BoilerplateOnly)
	assert.Empty(t, got.Pages[1].Text)
	assert.False(t, got.Pages[0].BoilerplateOnly)
	assert.NotContains(t, got.Pages[0].Text, "property of ACME")
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := NewNormalizer(nil)
	var pages []string
	for i := 0; i < 8; i++ {
		pages = append(pages, strings.Repeat(fmt.Sprintf("Line %d\n", i%3), 4)+"Header A\nHeader B\nFooter X\nFooter Y")
	}

	first, err := json.Marshal(n.Normalize(extracted(pages...)))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(n.Normalize(extracted(pages...)))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}
