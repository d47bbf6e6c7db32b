package api_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/JakeFAU/careers-crawler/internal/api"
	"github.com/JakeFAU/careers-crawler/internal/progress"
	"github.com/JakeFAU/careers-crawler/internal/progress/sinks"
)

func ExampleProgressHandler_Recent() {
	feed := sinks.NewRecentSink(8)
	_ = feed.Consume(context.Background(), []progress.Event{{
		RunID:     "run-1",
		TS:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Stage:     progress.StageRunStart,
		Company:   "Acme",
		CompanyID: "c-1",
		Mode:      "discover",
	}})

	h := api.NewProgressHandler(feed, nil)
	rec := httptest.NewRecorder()
	h.Recent(rec, httptest.NewRequest(http.MethodGet, "/v1/progress?company_id=c-1", nil))

	fmt.Println(rec.Code)
	fmt.Println(strings.TrimSpace(rec.Body.String()))
	// Output:
	// 200
	// {"events":[{"run_id":"run-1","ts":"2024-03-01T12:00:00.000Z","stage":"RUN_START","company":"Acme","company_id":"c-1","mode":"discover"}]}
}
