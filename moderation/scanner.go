package moderation

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"tierpress/models"
)

type Finding struct {
	Reason       models.ReportReason `json:"reason"`
	MatchedTerms []string            `json:"matchedTerms"`
}

type ScanResult struct {
	Blocked  bool      `json:"blocked"`
	Findings []Finding `json:"findings"`
}

// Reasons returns the categories found, in taxonomy order.
func (r ScanResult) Reasons() []models.ReportReason {
	reasons := make([]models.ReportReason, 0, len(r.Findings))
	for _, f := range r.Findings {
		reasons = append(reasons, f.Reason)
	}
	return reasons
}

// Category is one entry of the taxonomy. "other" never appears here: it is
// reserved for manual reports.
type Category struct {
	Reason models.ReportReason `yaml:"reason"`
	Terms  []string            `yaml:"terms"`
}

var DefaultTaxonomy = []Category{
	{Reason: models.ReasonAdult, Terms: []string{
		"porn", "xxx", "nsfw", "explicit sex", "nude leak", "camgirl", "onlyfans leak",
	}},
	{Reason: models.ReasonIP, Terms: []string{
		"keygen", "warez", "serial key", "license crack", "nulled plugin", "activation bypass",
	}},
	{Reason: models.ReasonCopyright, Terms: []string{
		"full movie download", "pirated copy", "torrent download", "leaked course", "ripped ebook", "dmca bypass",
	}},
	{Reason: models.ReasonViolentExtremism, Terms: []string{
		"terrorist manifesto", "bomb making", "how to make a bomb", "join the jihad", "mass shooting plan", "ethnic cleansing now",
	}},
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

type Scanner struct {
	taxonomy []Category
}

func NewScanner(taxonomy []Category) *Scanner {
	normalized := make([]Category, 0, len(taxonomy))
	for _, cat := range taxonomy {
		if cat.Reason == models.ReasonOther || !cat.Reason.Valid() {
			continue
		}
		terms := make([]string, 0, len(cat.Terms))
		for _, term := range cat.Terms {
			if t := Normalize(term); t != "" {
				terms = append(terms, t)
			}
		}
		normalized = append(normalized, Category{Reason: cat.Reason, Terms: terms})
	}
	return &Scanner{taxonomy: normalized}
}

var defaultScanner = NewScanner(DefaultTaxonomy)

// Scan checks text against the built-in taxonomy.
func Scan(text string) ScanResult {
	return defaultScanner.Scan(text)
}

// Normalize lowercases, drops <...> tags and collapses whitespace. It is a
// coarse pre-filter and not an HTML parser.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = tagPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (s *Scanner) Scan(text string) ScanResult {
	normalized := Normalize(text)
	result := ScanResult{Findings: []Finding{}}
	if normalized == "" {
		return result
	}

	for _, cat := range s.taxonomy {
		var matched []string
		for _, term := range cat.Terms {
			if strings.Contains(normalized, term) {
				matched = append(matched, term)
			}
		}
		if len(matched) > 0 {
			result.Findings = append(result.Findings, Finding{Reason: cat.Reason, MatchedTerms: matched})
		}
	}

	result.Blocked = len(result.Findings) > 0
	return result
}

type policyFile struct {
	Categories []Category `yaml:"categories"`
}

// LoadTaxonomy reads a YAML policy file:
//
//	categories:
//	  - reason: adult
//	    terms: [porn, xxx]
func LoadTaxonomy(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	for _, cat := range pf.Categories {
		if !cat.Reason.Valid() || cat.Reason == models.ReasonOther {
			return nil, fmt.Errorf("policy file %s: unsupported category %q", path, cat.Reason)
		}
	}
	return pf.Categories, nil
}

// NewScannerFromFile falls back to the default taxonomy when path is empty.
func NewScannerFromFile(path string) (*Scanner, error) {
	if path == "" {
		return defaultScanner, nil
	}
	taxonomy, err := LoadTaxonomy(path)
	if err != nil {
		return nil, err
	}
	return NewScanner(taxonomy), nil
}
