package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/storage/memory"
)

func TestFingerprintIsStableAndCoarse(t *testing.T) {
	t.Parallel()

	a := Fingerprint("c1", "Engineer", "Berlin")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("c1", " Engineer ", "Berlin"))
	assert.NotEqual(t, a, Fingerprint("c2", "Engineer", "Berlin"))
	assert.NotEqual(t, a, Fingerprint("c1", "Senior Engineer", "Berlin"))
	assert.NotEqual(t, a, Fingerprint("c1", "Engineer", "Paris"))
}

func TestUpsertTwiceYieldsOneJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository(nil, nil)
	c, err := repo.GetOrCreateCompany(ctx, "Acme", "acme.com")
	require.NoError(t, err)

	rec := crawler.JobRecord{Title: "Engineer", Location: "Berlin", URL: "https://acme.com/jobs/1"}
	first, err := Upsert(ctx, repo, c.ID, []crawler.JobRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, Counts{Found: 1, New: 1}, first)

	second, err := Upsert(ctx, repo, c.ID, []crawler.JobRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, Counts{Found: 1, Updated: 1}, second)

	stored, err := repo.ListJobs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, Fingerprint(c.ID, "Engineer", "Berlin"), stored[0].ExternalID)
}

func TestUpsertIntraRunDuplicateCountsAsUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepository(nil, nil)
	c, err := repo.GetOrCreateCompany(ctx, "Acme", "")
	require.NoError(t, err)

	counts, err := Upsert(ctx, repo, c.ID, []crawler.JobRecord{
		{Title: "Engineer", Location: "Berlin", Department: "Platform"},
		{Title: "Engineer", Location: "Berlin", Department: "Payments"},
		{Title: "Designer"},
		{Location: "untitled is skipped"},
	})
	require.NoError(t, err)
	assert.Equal(t, Counts{Found: 3, New: 2, Updated: 1}, counts)
	assert.Equal(t, counts.Found, counts.New+counts.Updated)

	stored, err := repo.ListJobs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Payments", stored[0].Department, "last write wins")
}

type failingRepo struct {
	crawler.Repository
}

func (failingRepo) UpsertJob(context.Context, string, string, crawler.JobRecord) (crawler.Job, bool, error) {
	return crawler.Job{}, false, errors.New("db down")
}

func TestUpsertPropagatesErrors(t *testing.T) {
	t.Parallel()

	_, err := Upsert(context.Background(), failingRepo{}, "c1", []crawler.JobRecord{{Title: "Engineer"}})
	require.ErrorContains(t, err, "db down")
}
