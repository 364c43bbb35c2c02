// Package accessibility implements the DOM heuristics engine that flags
// accessibility defects on a fetched page.
package accessibility

// Issue is a single flagged defect tied to one element. Only the fields
// relevant to the emitting check are populated; the rest are omitted from
// the serialized form.
type Issue struct {
	Element           string   `json:"element"`
	Issue             string   `json:"issue"`
	Src               string   `json:"src,omitempty"`
	Text              string   `json:"text,omitempty"`
	Type              string   `json:"type,omitempty"`
	ID                string   `json:"id,omitempty"`
	Role              string   `json:"role,omitempty"`
	MissingAttributes []string `json:"missing_attributes,omitempty"`
}

// Result aggregates the issues found on one page. The five category slices
// are always non-nil and TotalIssues equals the sum of their lengths.
// A page that could not be fetched carries the failure in Error with all
// categories empty.
type Result struct {
	URL            string  `json:"url"`
	ImageIssues    []Issue `json:"image_issues"`
	HeadingIssues  []Issue `json:"heading_issues"`
	FormIssues     []Issue `json:"form_issues"`
	ContrastIssues []Issue `json:"contrast_issues"`
	AriaIssues     []Issue `json:"aria_issues"`
	TotalIssues    int     `json:"total_issues"`
	Error          string  `json:"error,omitempty"`
}
