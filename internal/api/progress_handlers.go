package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/progress"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// RecentFeed returns recent progress events, newest first.
type RecentFeed interface {
	Recent(companyID string, limit int) []progress.Event
}

// ProgressHandler exposes the in-process progress event feed.
type ProgressHandler struct {
	feed   RecentFeed
	logger *zap.Logger
}

// NewProgressHandler wires the feed and logger.
func NewProgressHandler(feed RecentFeed, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{feed: feed, logger: logger}
}

// Recent handles GET /v1/progress?company_id=&limit=. It returns
// {"events": [...]}, 400 for an invalid limit, or 503 when no feed is configured.
func (h *ProgressHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "progress feed unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	companyID := strings.TrimSpace(r.URL.Query().Get("company_id"))
	events := h.feed.Recent(companyID, limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": toEventDTOs(events)})
}

type eventDTO struct {
	RunID      string `json:"run_id,omitempty"`
	TS         string `json:"ts"`
	Stage      string `json:"stage"`
	Company    string `json:"company,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Step       string `json:"step,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Note       string `json:"note,omitempty"`
}

func toEventDTOs(in []progress.Event) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, evt := range in {
		out = append(out, eventDTO{
			RunID:      evt.RunID,
			TS:         evt.TS.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Stage:      string(evt.Stage),
			Company:    evt.Company,
			CompanyID:  evt.CompanyID,
			Mode:       evt.Mode,
			Step:       evt.Step,
			Outcome:    evt.Outcome,
			DurationMs: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		})
	}
	return out
}
