package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/waqasmani/autopunch/internal/modules/orchestrator"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/utils"
)

// Store is the part of the state store the probes need.
type Store interface {
	Ping(ctx context.Context) error
	Backend() string
}

type RunSource interface {
	Last() *orchestrator.Batch
}

type Handler struct {
	store     Store
	runs      RunSource
	version   string
	startTime time.Time
}

func NewHandler(store Store, runs RunSource, version string) *Handler {
	return &Handler{
		store:     store,
		runs:      runs,
		version:   version,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version,omitempty"`
	Uptime  string        `json:"uptime,omitempty"`
	Store   StoreHealth   `json:"store"`
	LastRun *RunSummary   `json:"last_run,omitempty"`
	System  *SystemHealth `json:"system,omitempty"`
}

type StoreHealth struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

type RunSummary struct {
	RunID      string                `json:"run_id"`
	FinishedAt time.Time             `json:"finished_at"`
	Counts     map[domain.Status]int `json:"counts"`
}

type SystemHealth struct {
	NumGoroutine int    `json:"num_goroutine"`
	MemAllocMB   uint64 `json:"mem_alloc_mb"`
	NumCPU       int    `json:"num_cpu"`
}

func (h *Handler) Health(c *gin.Context) {
	store := h.storeHealth(c.Request.Context())

	overallStatus := "ok"
	if store.Status != "ok" {
		overallStatus = "degraded"
	}

	resp := HealthResponse{
		Status:  overallStatus,
		Version: h.version,
		Uptime:  time.Since(h.startTime).String(),
		Store:   store,
		System:  h.systemHealth(),
	}
	if last := h.lastRun(); last != nil {
		resp.LastRun = &RunSummary{RunID: last.RunID, FinishedAt: last.FinishedAt, Counts: last.Counts}
	}
	utils.Success(c, http.StatusOK, resp)
}

func (h *Handler) Ready(c *gin.Context) {
	store := h.storeHealth(c.Request.Context())
	if store.Status != "ok" {
		utils.Success(c, http.StatusServiceUnavailable, HealthResponse{Status: "not ready", Store: store})
		return
	}
	utils.Success(c, http.StatusOK, HealthResponse{Status: "ready", Store: store})
}

func (h *Handler) Alive(c *gin.Context) {
	utils.Success(c, http.StatusOK, gin.H{
		"status": "alive",
	})
}

// LatestRun returns the full batch of the most recent run.
func (h *Handler) LatestRun(c *gin.Context) {
	last := h.lastRun()
	if last == nil {
		utils.Error(c, errors.New(errors.ErrCodeNotFound, "No run has finished yet"))
		return
	}
	utils.Success(c, http.StatusOK, last)
}

func (h *Handler) lastRun() *orchestrator.Batch {
	if h.runs == nil {
		return nil
	}
	return h.runs.Last()
}

func (h *Handler) storeHealth(ctx context.Context) StoreHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := "ok"
	if err := h.store.Ping(pingCtx); err != nil {
		status = "error"
	}
	return StoreHealth{Status: status, Backend: h.store.Backend()}
}

func (h *Handler) systemHealth() *SystemHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemHealth{
		NumGoroutine: runtime.NumGoroutine(),
		MemAllocMB:   m.Alloc / 1024 / 1024,
		NumCPU:       runtime.NumCPU(),
	}
}
