package model

import "math"

// Progress summarises a job's results against its requested formats.
// Completed + Failed + Pending always equals Total.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Percent   int `json:"percent"`
}

// ComputeProgress counts results for the requested keys. Results for keys outside
// requested, and repeats of an already-counted key, are ignored. A requested key with no
// result counts as pending.
func ComputeProgress(requested []string, results []*Result) Progress {
	want := make(map[string]struct{}, len(requested))
	for _, k := range requested {
		want[k] = struct{}{}
	}

	p := Progress{Total: len(want)}
	counted := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		if _, ok := want[r.FormatKey]; !ok {
			continue
		}
		if _, dup := counted[r.FormatKey]; dup {
			continue
		}
		counted[r.FormatKey] = struct{}{}
		switch r.Status {
		case ResultStatusCompleted:
			p.Completed++
		case ResultStatusFailed:
			p.Failed++
		case ResultStatusPending:
		}
	}
	p.Pending = p.Total - p.Completed - p.Failed
	p.Percent = Percent(p.Completed, p.Total)
	return p
}

// Percent returns round(100*completed/total), or 0 when total is 0.
func Percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Settled reports whether every requested format has a terminal result.
func (p Progress) Settled() bool {
	return p.Pending == 0
}

// SettledStatus returns the terminal job status for p. ok is false while formats are pending.
// A job with at least one success is completed even when other formats failed.
func SettledStatus(p Progress) (status JobStatus, ok bool) {
	if !p.Settled() {
		return JobStatusProcessing, false
	}
	if p.Completed > 0 {
		return JobStatusCompleted, true
	}
	return JobStatusFailed, true
}

// FailedKeys returns the requested keys whose result failed, in requested order.
func FailedKeys(requested []string, results []*Result) []string {
	failed := make(map[string]struct{})
	for _, r := range results {
		if r != nil && r.Status == ResultStatusFailed {
			failed[r.FormatKey] = struct{}{}
		}
	}
	var out []string
	for _, k := range requested {
		if _, ok := failed[k]; ok {
			out = append(out, k)
			delete(failed, k)
		}
	}
	return out
}
