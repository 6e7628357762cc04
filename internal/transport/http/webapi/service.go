package webapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"koemuse-server/internal/platform/errors"
	"koemuse-server/internal/platform/logging"
	"koemuse-server/internal/platform/storage"
	httptransport "koemuse-server/internal/transport/http"
)

// SessionCounter reports live websocket client and session counts.
type SessionCounter func() (clients int, sessions int)

// Service exposes the read-side web API: generation history and a
// system status snapshot.
type Service struct {
	repo      storage.GenerationRepository
	counts    SessionCounter
	logger    *logging.Logger
	startedAt time.Time
}

// NewService creates the web API service.
func NewService(repo storage.GenerationRepository, counts SessionCounter, logger *logging.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New(errors.KindConfig, "webapi.new", "generation repository is required")
	}
	if counts == nil {
		counts = func() (int, int) { return 0, 0 }
	}
	return &Service{
		repo:      repo,
		counts:    counts,
		logger:    logger,
		startedAt: time.Now(),
	}, nil
}

// Register mounts the routes on the API group.
func (s *Service) Register(router *gin.RouterGroup) {
	router.GET("/generations", s.handleGenerationsList)
	router.GET("/generations/:id", s.handleGenerationGet)
	router.GET("/system/status", s.handleSystemStatus)
	s.logger.InfoTag("HTTP", "web API routes registered")
}

func (s *Service) handleGenerationsList(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	records, err := s.repo.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.ErrorTag("Storage", "generation listing failed: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to list generations", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, records, "")
}

func (s *Service) handleGenerationGet(c *gin.Context) {
	record, err := s.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.ErrorTag("Storage", "generation lookup failed: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to load generation", nil)
		return
	}
	if record == nil {
		httptransport.RespondError(c, http.StatusNotFound, "generation not found", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, record, "")
}

// SystemStatus is the /system/status payload.
type SystemStatus struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
	Clients       int     `json:"clients"`
	Sessions      int     `json:"sessions"`
}

func (s *Service) handleSystemStatus(c *gin.Context) {
	status := SystemStatus{
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	status.Clients, status.Sessions = s.counts()

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryPercent = vm.UsedPercent
	}

	httptransport.RespondSuccess(c, http.StatusOK, status, "")
}
