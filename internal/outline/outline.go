// Package outline turns the rows of a contract's table of contents into
// an ordered, two-level outline of sections and subsections.
package outline

// MiscTitle names the placeholder section that collects subsections
// appearing before any section.
const MiscTitle = "Miscellaneous Subsections"

// Outline is the ordered list of sections extracted from a TOC.
type Outline struct {
	Roman    bool      `json:"roman" yaml:"roman"`
	Sections []Section `json:"sections" yaml:"sections"`
}

// Section is a top-level TOC entry. Number is the ordinal key; Numbering
// is how the number is written (decimal or roman).
type Section struct {
	Number      int          `json:"number" yaml:"number"`
	Numbering   string       `json:"numbering" yaml:"numbering"`
	Title       string       `json:"title" yaml:"title"`
	Subsections []Subsection `json:"subsections,omitempty" yaml:"subsections,omitempty"`
}

type Subsection struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
}

// Len returns the number of sections.
func (o *Outline) Len() int { return len(o.Sections) }

// Section returns the section keyed by number.
func (o *Outline) Section(number int) (*Section, bool) {
	for i := range o.Sections {
		if o.Sections[i].Number == number {
			return &o.Sections[i], true
		}
	}
	return nil, false
}

// Labels flattens the outline in order: each section title, followed by
// its subsection titles when includeSubsections is set.
func (o *Outline) Labels(includeSubsections bool) []string {
	var out []string
	for _, s := range o.Sections {
		out = append(out, s.Title)
		if !includeSubsections {
			continue
		}
		for _, sub := range s.Subsections {
			out = append(out, sub.Title)
		}
	}
	return out
}
