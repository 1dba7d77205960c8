package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Divkix/pickmyclass/internal/scheduler"
)

// DispatchHandler exposes the dispatch trigger the external timer
// invokes.  The request carries no body; authentication happens in
// middleware.CronAuth before this handler runs.
type DispatchHandler struct {
	sched *scheduler.Scheduler
}

// NewDispatchHandler returns a DispatchHandler around the scheduler.
func NewDispatchHandler(s *scheduler.Scheduler) *DispatchHandler {
	return &DispatchHandler{sched: s}
}

// dispatchResponse is the trigger's JSON reply.
type dispatchResponse struct {
	Success          bool   `json:"success"`
	SectionsEnqueued int    `json:"sections_enqueued"`
	StaggerGroup     string `json:"stagger_group"`
	DurationMS       int64  `json:"duration_ms"`
	Skipped          bool   `json:"skipped,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Trigger runs one dispatch cycle.  A lock conflict ("already
// running") is a successful, skipped response, not an error; cycle
// failures surface as 500 so the timer's monitoring notices.
func (h *DispatchHandler) Trigger(c echo.Context) error {
	res, err := h.sched.Run(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dispatchResponse{
			Success:      false,
			StaggerGroup: res.StaggerGroup,
			DurationMS:   res.Duration.Milliseconds(),
			Error:        err.Error(),
		})
	}
	return c.JSON(http.StatusOK, dispatchResponse{
		Success:          true,
		SectionsEnqueued: res.SectionsEnqueued,
		StaggerGroup:     res.StaggerGroup,
		DurationMS:       res.Duration.Milliseconds(),
		Skipped:          res.Skipped,
	})
}
