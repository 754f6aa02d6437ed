package core

// NormalizedPage keeps page attribution through normalization. DuplicateOf
// is the number of an earlier page with identical text, 0 otherwise.
type NormalizedPage struct {
	Number          int    `json:"number"`
	Text            string `json:"text"`
	DuplicateOf     int    `json:"duplicate_of,omitempty"`
	BoilerplateOnly bool   `json:"boilerplate_only,omitempty"`
}

// NormalizedDocument is the canonical representation consumed by quality
// checks and chunking.
type NormalizedDocument struct {
	Pages              []NormalizedPage `json:"pages"`
	Outline            []string         `json:"outline,omitempty"`
	RemovedHeaders     []string         `json:"removed_headers,omitempty"`
	RemovedFooters     []string         `json:"removed_footers,omitempty"`
	RemovedBoilerplate []string         `json:"removed_boilerplate,omitempty"`
}

// DistinctPages returns pages that are not exact copies of an earlier page.
func (d *NormalizedDocument) DistinctPages() []NormalizedPage {
	out := make([]NormalizedPage, 0, len(d.Pages))
	for _, p := range d.Pages {
		if p.DuplicateOf == 0 {
			out = append(out, p)
		}
	}
	return out
}

// Empty reports whether no page carries any text.
func (d *NormalizedDocument) Empty() bool {
	for _, p := range d.Pages {
		if p.Text != "" {
			return false
		}
	}
	return true
}
