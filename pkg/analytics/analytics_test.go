package analytics

import (
	"math/rand"
	"testing"
	"time"

	"complaint-portal/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func complaint(id string, status models.Status, category string, age time.Duration) models.Complaint {
	return models.Complaint{
		ID:          id,
		Title:       category,
		Category:    category,
		Status:      status,
		SubmittedAt: now.Add(-age),
	}
}

func TestCountsByStatusSumsToTotal(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	statuses := append([]models.Status{"Archived"}, models.Statuses...)

	for n := 0; n < 50; n++ {
		var cs []models.Complaint
		for i := 0; i < n; i++ {
			cs = append(cs, models.Complaint{Status: statuses[r.Intn(len(statuses))]})
		}
		counts := CountsByStatus(cs)

		sum := 0
		for _, v := range counts {
			sum += v
		}
		assert.Equal(t, len(cs), sum)
		for _, s := range models.Statuses {
			assert.Contains(t, counts, s)
		}
	}
}

func TestCountsByCategoryUsesOther(t *testing.T) {
	cs := []models.Complaint{
		complaint("1", models.StatusPending, "Garbage", 0),
		complaint("2", models.StatusPending, "", 0),
		complaint("3", models.StatusPending, "Garbage", 0),
		complaint("4", models.StatusPending, "  ", 0),
	}
	assert.Equal(t, map[string]int{"Garbage": 2, OtherCategory: 2}, CountsByCategory(cs))
}

func TestPercentOf(t *testing.T) {
	for _, x := range []int{0, 1, 17, 1000} {
		assert.Equal(t, 0, PercentOf(x, 0))
	}
	assert.Equal(t, 33, PercentOf(1, 3))
	assert.Equal(t, 67, PercentOf(2, 3))
	assert.Equal(t, 50, PercentOf(1, 2))
	assert.Equal(t, 100, PercentOf(4, 4))
}

func TestResolutionRateDays(t *testing.T) {
	assert.Equal(t, 0.0, ResolutionRateDays(nil, now))

	single := []models.Complaint{complaint("1", models.StatusCompleted, "Roads", 10*24*time.Hour)}
	assert.Equal(t, 10.0, ResolutionRateDays(single, now))

	mixed := []models.Complaint{
		complaint("1", models.StatusCompleted, "Roads", 2*24*time.Hour),
		complaint("2", models.StatusCompleted, "Roads", 3*24*time.Hour),
		complaint("3", models.StatusPending, "Roads", 40*24*time.Hour),
		{ID: "4", Status: models.StatusCompleted},
	}
	assert.Equal(t, 2.5, ResolutionRateDays(mixed, now))

	assert.Equal(t, 0.0, ResolutionRateDays([]models.Complaint{{ID: "x", Status: models.StatusCompleted}}, now))
}

func TestBuild(t *testing.T) {
	cs := []models.Complaint{
		complaint("1", models.StatusCompleted, "Water", 24*time.Hour),
		complaint("2", models.StatusPending, "Water", time.Hour),
		complaint("3", models.StatusInProgress, "", time.Hour),
	}

	r := Build(cs, now)

	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 1, r.ByStatus[models.StatusCompleted])
	assert.Equal(t, 33, r.StatusPercent[models.StatusPending])
	assert.Equal(t, 33, r.ResolutionRatePercent)
	assert.Equal(t, 1.0, r.ResolutionRateDays)
	assert.Equal(t, map[string]int{"Water": 2, "Other": 1}, r.ByCategory)
	assert.Equal(t, now, r.GeneratedAt)
}

func TestBuildIsOrderIndependent(t *testing.T) {
	cs := []models.Complaint{
		complaint("1", models.StatusCompleted, "Water", 24*time.Hour),
		complaint("2", models.StatusPending, "Roads", time.Hour),
		complaint("3", models.StatusCompleted, "Roads", 72*time.Hour),
	}
	reversed := []models.Complaint{cs[2], cs[1], cs[0]}
	assert.Equal(t, Build(cs, now), Build(reversed, now))
}

func TestAuthorityWorkload(t *testing.T) {
	roads, water := "Roads Dept", "auth-water"
	cs := []models.Complaint{
		{ID: "1", Status: models.StatusCompleted, AssignedAuthority: &roads},
		{ID: "2", Status: models.StatusPending, AssignedAuthority: &roads},
		{ID: "3", Status: models.StatusCompleted, AssignedAuthority: &water},
		{ID: "4", Status: models.StatusCompleted},
	}
	authorities := []models.Authority{
		{ID: "auth-roads", Name: "roads dept"},
		{ID: "auth-water", Name: "Water Board"},
		{ID: "auth-parks", Name: "Parks"},
	}

	got := AuthorityWorkload(cs, authorities)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].AssignedCount)
	assert.Equal(t, 1, got[0].ResolvedCount)
	assert.Equal(t, 1, got[1].AssignedCount)
	assert.Equal(t, 1, got[1].ResolvedCount)
	assert.Zero(t, got[2].AssignedCount)
}

func TestFilter(t *testing.T) {
	cs := []models.Complaint{
		{ID: "1", Title: "Pothole", Location: "Main Street", Status: models.StatusPending},
		{ID: "2", Title: "Streetlight", Location: "Park Road", Status: models.StatusInProgress},
		{ID: "3", Title: "Garbage", Location: "main square", Status: models.StatusCompleted},
	}

	assert.Len(t, Filter(cs, "", ""), 3)
	assert.Len(t, Filter(cs, FilterAll, ""), 3)
	assert.Equal(t, "2", Filter(cs, FilterInProgress, "")[0].ID)

	got := Filter(cs, "", "MAIN")
	require.Len(t, got, 2)
	assert.Equal(t, []string{"1", "3"}, []string{got[0].ID, got[1].ID})

	assert.Empty(t, Filter(cs, FilterPending, "park"))
	assert.True(t, ValidFilter("InProgress"))
	assert.False(t, ValidFilter("closed"))
}

func TestSinceAndRangeDays(t *testing.T) {
	cs := []models.Complaint{
		{ID: "new", SubmittedAt: now.AddDate(0, 0, -2)},
		{ID: "old", SubmittedAt: now.AddDate(0, 0, -40)},
		{ID: "undated"},
	}

	days, ok := RangeDays("30d")
	require.True(t, ok)
	got := Since(cs, now.AddDate(0, 0, -days))
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "undated", got[1].ID)

	days, ok = RangeDays("")
	assert.True(t, ok)
	assert.Zero(t, days)
	_, ok = RangeDays("1y")
	assert.False(t, ok)
}
