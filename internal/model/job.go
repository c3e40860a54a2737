package model

import "strings"

const (
	// Slots is the number of jobs that may run at the same time.
	Slots = 3
	// MaxJobs is the largest number of URLs a single batch accepts.
	MaxJobs = 5
	// LogLines is the capacity of every slot log.
	LogLines = 50
)

// Job is one download request. ID is the position of the URL in the submitted
// batch and stays stable for the lifetime of the batch.
type Job struct {
	ID  int
	URL string
}

// Number is the one-based position shown to humans.
func (j Job) Number() int {
	return j.ID + 1
}

// NormalizeURL trims surrounding whitespace and removes every double and
// single quote, so URLs pasted as "https://..." or 'https://...' work.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, `'`, "")
	return strings.TrimSpace(s)
}

// NewJobs turns raw batch input into jobs. Entries that are empty after
// normalization never become jobs, but the remaining jobs keep their
// original positions as ids.
func NewJobs(inputs []string) []Job {
	jobs := make([]Job, 0, len(inputs))
	for idx, raw := range inputs {
		url := NormalizeURL(raw)
		if url == "" {
			continue
		}
		jobs = append(jobs, Job{ID: idx, URL: url})
	}
	return jobs
}
