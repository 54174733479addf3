package tracker

import (
	"strings"

	"golang.org/x/text/cases"
)

// fold returns the Unicode case-folded form of s. A Caser keeps state, so a
// fresh one is used per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

func normalizeURL(u string) string {
	return fold(strings.TrimSpace(u))
}

func containsFold(s, substr string) bool {
	return strings.Contains(fold(s), fold(substr))
}

// findDuplicate returns the index of the record the given attributes collapse
// to. A URL match wins; company and title are only compared when no record
// matches by URL.
func findDuplicate(jobs []*Job, company, jobTitle, jobURL string) (int, bool) {
	if u := normalizeURL(jobURL); u != "" {
		for i, job := range jobs {
			if normalizeURL(job.JobURL) == u {
				return i, true
			}
		}
	}

	c, t := fold(company), fold(jobTitle)
	for i, job := range jobs {
		if fold(job.Company) == c && fold(job.JobTitle) == t {
			return i, true
		}
	}
	return -1, false
}

func matchesQuery(job *Job, query string) bool {
	if containsFold(job.JobTitle, query) || containsFold(job.Company, query) {
		return true
	}
	return job.Location != "" && containsFold(job.Location, query)
}
