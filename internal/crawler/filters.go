package crawler

import "strings"

// MatchKeywords returns the keywords that occur in content, compared
// case-insensitively. ok is true when no keywords were requested or at least
// one matched.
func (f JobFilters) MatchKeywords(content string) (matched []string, ok bool) {
	wanted := make([]string, 0, len(f.Keywords))
	for _, kw := range f.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			wanted = append(wanted, kw)
		}
	}
	if len(wanted) == 0 {
		return nil, true
	}
	lower := strings.ToLower(content)
	seen := make(map[string]struct{}, len(wanted))
	for _, kw := range wanted {
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		if strings.Contains(lower, key) {
			seen[key] = struct{}{}
			matched = append(matched, kw)
		}
	}
	return matched, len(matched) > 0
}
