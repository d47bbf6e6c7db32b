// Package jobs turns extracted records into stored postings, deduplicated
// by a coarse (company, title, location) fingerprint.
package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/hash/sha256"
)

// Fingerprint is the dedup key stored as a job's external_id. Two postings
// with the same title and location collapse into one job.
func Fingerprint(companyID, title, location string) string {
	return sha256.New().HashParts(companyID, strings.TrimSpace(title), strings.TrimSpace(location))
}

// Counts reconciles one upsert batch: Found = New + Updated.
type Counts struct {
	Found   int `json:"jobs_found"`
	New     int `json:"jobs_new"`
	Updated int `json:"jobs_updated"`
}

// Upsert stores every titled record for companyID. A fingerprint repeated
// within the batch counts as an update of its first occurrence.
func Upsert(ctx context.Context, repo crawler.Repository, companyID string, records []crawler.JobRecord) (Counts, error) {
	var c Counts
	for _, rec := range records {
		if strings.TrimSpace(rec.Title) == "" {
			continue
		}
		fp := Fingerprint(companyID, rec.Title, rec.Location)
		_, wasNew, err := repo.UpsertJob(ctx, companyID, fp, rec)
		if err != nil {
			return c, fmt.Errorf("upsert job %q: %w", rec.Title, err)
		}
		c.Found++
		if wasNew {
			c.New++
		} else {
			c.Updated++
		}
	}
	return c, nil
}
