package filter

import (
	"fmt"
	"strings"

	"github.com/amishk599/jobpipe/internal/config"
	"github.com/amishk599/jobpipe/internal/model"
)

// AgencyFilter is the hard recruitment-agency blocklist. It matches the
// employer name exactly or by keyword; it never looks at the description.
type AgencyFilter struct {
	exact    map[string]string
	keywords []pattern
}

// NewAgencyFilter compiles the blocklist. An empty blocklist blocks nothing.
func NewAgencyFilter(ap config.AgencyPatterns) (*AgencyFilter, error) {
	f := &AgencyFilter{exact: make(map[string]string, len(ap.Exact))}
	for _, name := range ap.Exact {
		if folded := foldLocation(name); folded != "" {
			f.exact[folded] = name
		}
	}
	kw, err := compile("agency.keywords", ap.Keywords)
	if err != nil {
		return nil, &model.FilterConfigurationError{Reason: "agency patterns", Err: err}
	}
	f.keywords = kw
	return f, nil
}

// Match reports whether the employer is a blocklisted agency.
func (f *AgencyFilter) Match(company string) (bool, string) {
	if name, ok := f.exact[foldLocation(company)]; ok {
		return true, fmt.Sprintf("employer is blocklisted agency %q", name)
	}
	lower := strings.ToLower(company)
	if p, ok := firstMatch(f.keywords, lower); ok {
		return true, fmt.Sprintf("employer matches agency keyword %q", p.raw)
	}
	return false, ""
}
