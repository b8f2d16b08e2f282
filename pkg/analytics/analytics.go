// Package analytics derives dashboard statistics from a complaint snapshot.
// Every function is pure: callers recompute from the latest snapshot.
package analytics

import (
	"math"
	"strings"
	"time"

	"complaint-portal/pkg/models"
)

// OtherCategory labels complaints without a category.
const OtherCategory = "Other"

// CountsByStatus always reports the three workflow statuses, zero or not.
// Statuses outside the closed set are counted under their own key so the
// counts always sum to len(complaints).
func CountsByStatus(complaints []models.Complaint) map[models.Status]int {
	counts := make(map[models.Status]int, len(models.Statuses))
	for _, s := range models.Statuses {
		counts[s] = 0
	}
	for _, c := range complaints {
		counts[c.Status]++
	}
	return counts
}

func CountsByCategory(complaints []models.Complaint) map[string]int {
	counts := make(map[string]int)
	for _, c := range complaints {
		key := strings.TrimSpace(c.Category)
		if key == "" {
			key = OtherCategory
		}
		counts[key]++
	}
	return counts
}

// PercentOf returns round(100*count/total), or 0 when total is 0.
func PercentOf(count, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(count) / float64(total)))
}

// ResolutionRateDays is the mean age in days of completed complaints,
// rounded to one decimal. Complaints without a usable submission time are
// left out of both the sum and the count.
func ResolutionRateDays(complaints []models.Complaint, now time.Time) float64 {
	var sum float64
	var n int
	for _, c := range complaints {
		if c.Status != models.StatusCompleted || c.SubmittedAt.IsZero() {
			continue
		}
		sum += now.Sub(c.SubmittedAt).Hours() / 24
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*10) / 10
}

func ResolutionRatePercent(complaints []models.Complaint) int {
	completed := 0
	for _, c := range complaints {
		if c.Status == models.StatusCompleted {
			completed++
		}
	}
	return PercentOf(completed, len(complaints))
}

type Report struct {
	Total                 int                   `json:"total"`
	ByStatus              map[models.Status]int `json:"byStatus"`
	StatusPercent         map[models.Status]int `json:"statusPercent"`
	ByCategory            map[string]int        `json:"byCategory"`
	ResolutionRatePercent int                   `json:"resolutionRatePercent"`
	ResolutionRateDays    float64               `json:"resolutionRateDays"`
	GeneratedAt           time.Time             `json:"generatedAt"`
}

func Build(complaints []models.Complaint, now time.Time) Report {
	byStatus := CountsByStatus(complaints)
	percent := make(map[models.Status]int, len(byStatus))
	for s, n := range byStatus {
		percent[s] = PercentOf(n, len(complaints))
	}
	return Report{
		Total:                 len(complaints),
		ByStatus:              byStatus,
		StatusPercent:         percent,
		ByCategory:            CountsByCategory(complaints),
		ResolutionRatePercent: ResolutionRatePercent(complaints),
		ResolutionRateDays:    ResolutionRateDays(complaints, now),
		GeneratedAt:           now,
	}
}

// AuthorityWorkload derives assigned and resolved counters per authority.
// A complaint belongs to an authority when its assignment equals the
// authority's name, id or authorityId, ignoring case.
func AuthorityWorkload(complaints []models.Complaint, authorities []models.Authority) []models.AuthorityWorkload {
	out := make([]models.AuthorityWorkload, len(authorities))
	for i, a := range authorities {
		out[i].Authority = a
	}
	for _, c := range complaints {
		assigned := strings.TrimSpace(c.Assigned())
		if assigned == "" {
			continue
		}
		for i := range out {
			if !matchesAuthority(out[i].Authority, assigned) {
				continue
			}
			out[i].AssignedCount++
			if c.Status == models.StatusCompleted {
				out[i].ResolvedCount++
			}
			break
		}
	}
	return out
}

func matchesAuthority(a models.Authority, ref string) bool {
	for _, key := range []string{a.Name, a.ID, a.AuthorityID} {
		if key != "" && strings.EqualFold(strings.TrimSpace(key), ref) {
			return true
		}
	}
	return false
}

// Dashboard status filter keys.
const (
	FilterAll        = "all"
	FilterPending    = "pending"
	FilterInProgress = "inprogress"
	FilterCompleted  = "completed"
)

var filterStatus = map[string]models.Status{
	FilterPending:    models.StatusPending,
	FilterInProgress: models.StatusInProgress,
	FilterCompleted:  models.StatusCompleted,
}

// ValidFilter reports whether key is a known status filter. Empty means all.
func ValidFilter(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || key == FilterAll {
		return true
	}
	_, ok := filterStatus[key]
	return ok
}

// Filter keeps complaints matching the status filter key and whose
// "title location" contains search, case-insensitively. Order is kept.
func Filter(complaints []models.Complaint, statusKey, search string) []models.Complaint {
	want, byStatus := filterStatus[strings.ToLower(strings.TrimSpace(statusKey))]
	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]models.Complaint, 0, len(complaints))
	for _, c := range complaints {
		if byStatus && c.Status != want {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(c.Title+" "+c.Location), needle) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Since keeps complaints submitted at or after cutoff. Complaints without a
// usable submission time are kept.
func Since(complaints []models.Complaint, cutoff time.Time) []models.Complaint {
	out := make([]models.Complaint, 0, len(complaints))
	for _, c := range complaints {
		if c.SubmittedAt.IsZero() || !c.SubmittedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// RangeDays maps a dashboard time range key (7d, 30d, 90d, all) to a number
// of days. Zero means unbounded.
func RangeDays(key string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", "all":
		return 0, true
	case "7d":
		return 7, true
	case "30d":
		return 30, true
	case "90d":
		return 90, true
	}
	return 0, false
}
