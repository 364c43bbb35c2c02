package accessibility

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// requiredAriaAttrs maps ARIA roles to the attributes they must carry.
// The per-role order is fixed so missing attributes are reported stably.
var requiredAriaAttrs = map[string][]string{
	"checkbox":    {"aria-checked"},
	"combobox":    {"aria-expanded"},
	"slider":      {"aria-valuenow", "aria-valuemin", "aria-valuemax"},
	"progressbar": {"aria-valuenow", "aria-valuemin", "aria-valuemax"},
	"scrollbar":   {"aria-controls", "aria-valuenow", "aria-valuemin", "aria-valuemax"},
	"spinbutton":  {"aria-valuenow", "aria-valuemin", "aria-valuemax"},
	"textbox":     {"aria-multiline"},
}

const contrastTextLimit = 50

// CheckImageAlt flags img elements with no alt attribute at all.
// An empty alt="" marks a decorative image and is not flagged.
func CheckImageAlt(doc *goquery.Document) []Issue {
	issues := []Issue{}
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("alt"); ok {
			return
		}
		src, ok := s.Attr("src")
		if !ok {
			src = "unknown"
		}
		issues = append(issues, Issue{
			Element: "img",
			Src:     src,
			Issue:   "Missing alt text",
		})
	})
	return issues
}

// CheckHeadingHierarchy flags headings that skip more than one level upward
// from the previously seen heading. The running level starts at 0 and is
// updated after every heading, so decreasing levels never flag.
func CheckHeadingHierarchy(doc *goquery.Document) []Issue {
	issues := []Issue{}
	current := 0
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		level := int(name[1] - '0')
		if level-current > 1 {
			issues = append(issues, Issue{
				Element: name,
				Text:    strings.TrimSpace(s.Text()),
				Issue:   fmt.Sprintf("Skipped heading level from h%d to h%d", current, level),
			})
		}
		current = level
	})
	return issues
}

// CheckFormLabels flags inputs whose id has no matching label[for] anywhere
// in the document. Inputs without an id cannot be matched and are skipped.
func CheckFormLabels(doc *goquery.Document) []Issue {
	labeled := map[string]bool{}
	doc.Find("label").Each(func(_ int, s *goquery.Selection) {
		if forID, ok := s.Attr("for"); ok {
			labeled[forID] = true
		}
	})

	issues := []Issue{}
	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("id")
		if !ok || id == "" {
			return
		}
		if labeled[id] {
			return
		}
		typ, ok := s.Attr("type")
		if !ok || typ == "" {
			typ = "unknown"
		}
		issues = append(issues, Issue{
			Element: "input",
			Type:    typ,
			ID:      id,
			Issue:   "Missing associated label",
		})
	})
	return issues
}

// CheckColorContrast flags text elements whose inline style mentions a color.
// This is a coarse syntactic heuristic, not a contrast-ratio computation.
func CheckColorContrast(doc *goquery.Document) []Issue {
	issues := []Issue{}
	doc.Find("p, span, div, a").Each(func(_ int, s *goquery.Selection) {
		style, ok := s.Attr("style")
		if !ok || !strings.Contains(strings.ToLower(style), "color") {
			return
		}
		issues = append(issues, Issue{
			Element: goquery.NodeName(s),
			Text:    truncate(strings.TrimSpace(s.Text()), contrastTextLimit),
			Issue:   "Potential color contrast issue",
		})
	})
	return issues
}

// CheckAria runs the four ARIA sub-checks and concatenates their issues in
// fixed order: required attributes by role, empty aria-label, and invalid
// aria-describedby then aria-labelledby references.
func CheckAria(doc *goquery.Document) []Issue {
	issues := []Issue{}
	issues = append(issues, checkRequiredAria(doc)...)
	issues = append(issues, checkEmptyAriaLabels(doc)...)
	issues = append(issues, checkAriaReferences(doc, "aria-describedby")...)
	issues = append(issues, checkAriaReferences(doc, "aria-labelledby")...)
	return issues
}

func checkRequiredAria(doc *goquery.Document) []Issue {
	issues := []Issue{}
	doc.Find("[role]").Each(func(_ int, s *goquery.Selection) {
		role, _ := s.Attr("role")
		required, known := requiredAriaAttrs[role]
		if !known {
			return
		}
		var missing []string
		for _, attr := range required {
			if _, ok := s.Attr(attr); !ok {
				missing = append(missing, attr)
			}
		}
		if len(missing) == 0 {
			return
		}
		issues = append(issues, Issue{
			Element:           goquery.NodeName(s),
			Role:              role,
			MissingAttributes: missing,
			Issue:             fmt.Sprintf("Missing required ARIA attributes: %s", strings.Join(missing, ", ")),
		})
	})
	return issues
}

func checkEmptyAriaLabels(doc *goquery.Document) []Issue {
	issues := []Issue{}
	doc.Find("[aria-label]").Each(func(_ int, s *goquery.Selection) {
		label, _ := s.Attr("aria-label")
		if strings.TrimSpace(label) != "" {
			return
		}
		issues = append(issues, Issue{
			Element: goquery.NodeName(s),
			Issue:   "Empty aria-label attribute",
		})
	})
	return issues
}

func checkAriaReferences(doc *goquery.Document, attribute string) []Issue {
	ids := map[string]bool{}
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok {
			ids[id] = true
		}
	})

	issues := []Issue{}
	doc.Find("[" + attribute + "]").Each(func(_ int, s *goquery.Selection) {
		value, _ := s.Attr(attribute)
		for _, ref := range strings.Fields(value) {
			if ids[ref] {
				continue
			}
			issues = append(issues, Issue{
				Element: goquery.NodeName(s),
				Issue:   fmt.Sprintf("Invalid %s reference: %s", attribute, ref),
			})
		}
	})
	return issues
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
