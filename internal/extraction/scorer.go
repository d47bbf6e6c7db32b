package extraction

import "github.com/JakeFAU/careers-crawler/internal/crawler"

// Completeness weights per field.
const (
	titleWeight    = 0.5
	locationWeight = 0.3
	urlWeight      = 0.2
)

// Validation is the outcome of scoring an extracted list.
type Validation struct {
	Records    []crawler.JobRecord
	Quality    float64
	Confidence float64
}

// Quality returns the weighted field-completeness fraction of records, or 0 for an empty list.
func Quality(records []crawler.JobRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var titles, locations, urls int
	for _, r := range records {
		if r.Title != "" {
			titles++
		}
		if r.Location != "" {
			locations++
		}
		if r.URL != "" {
			urls++
		}
	}
	n := float64(len(records))
	return float64(titles)/n*titleWeight + float64(locations)/n*locationWeight + float64(urls)/n*urlWeight
}

// Validate scales the oracle's confidence by completeness and drops untitled
// records. An empty list scores exactly 0.
func Validate(records []crawler.JobRecord, oracleConfidence float64) Validation {
	if len(records) == 0 {
		return Validation{}
	}
	q := Quality(records)
	kept := make([]crawler.JobRecord, 0, len(records))
	for _, r := range records {
		if r.Title != "" {
			kept = append(kept, r)
		}
	}
	return Validation{
		Records:    kept,
		Quality:    q,
		Confidence: crawler.Clamp01(oracleConfidence * q),
	}
}
