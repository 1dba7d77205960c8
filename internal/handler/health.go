package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Divkix/pickmyclass/internal/breaker"
)

// HealthHandler reports component status for load balancers and
// operators: store-of-record and Redis reachability plus the circuit
// breaker's current state.  Breaker status is read independently of
// executing calls.
type HealthHandler struct {
	db  *sql.DB
	rdb *redis.Client // may be nil when no cache/lock store is configured
	brk *breaker.Breaker
}

// NewHealthHandler returns a HealthHandler over the shared resources.
func NewHealthHandler(db *sql.DB, rdb *redis.Client, brk *breaker.Breaker) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, brk: brk}
}

// Health returns 200 when the store of record is reachable, 503
// otherwise.  Redis being down degrades latency, not correctness, so
// it is reported but does not fail the check.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := echo.Map{"status": "ok"}
	status := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		resp["status"] = "degraded"
		resp["db"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp["db"] = "ok"
	}

	if h.rdb == nil {
		resp["redis"] = "not configured"
	} else if err := h.rdb.Ping(ctx).Err(); err != nil {
		resp["redis"] = err.Error()
	} else {
		resp["redis"] = "ok"
	}

	if h.brk != nil {
		resp["breaker"] = h.brk.Snapshot()
	}
	return c.JSON(status, resp)
}
