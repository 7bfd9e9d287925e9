package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/napsa-zm/erm-platform/internal/audit"
	"github.com/napsa-zm/erm-platform/internal/reports"
)

// ---- audit ledger ----

func (s *Server) recordAuditEvent(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	var event audit.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		badRequest(c, err)
		return
	}
	if event.EventType == "" || event.EntityType == "" || event.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type, entity_type and entity_id are required"})
		return
	}
	if event.Actor == "" {
		event.Actor = actor(c)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	id, err := s.deps.Ledger.Record(c.Request.Context(), event)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"entry_id": id})
}

func (s *Server) auditTrail(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	f := audit.TrailFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		EventType:  c.Query("event_type"),
		Limit:      intQuery(c, "limit", 100),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		f.To = t
	}
	entries, err := s.deps.Ledger.Trail(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

func (s *Server) auditVerify(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	report, err := s.deps.Ledger.VerifyIntegrity(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) auditStats(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	stats, err := s.deps.Ledger.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ---- report generation and scheduling ----

func (s *Server) generateReport(c *gin.Context) {
	kind := reports.Kind(c.Query("kind"))
	format := reports.Format(c.DefaultQuery("format", "csv"))

	doc, err := s.deps.Generator.Generate(c.Request.Context(), kind, format)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

func (s *Server) listSchedules(c *gin.Context) {
	items, err := s.deps.Scheduler.ListSchedules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createSchedule(c *gin.Context) {
	var sched reports.ScheduledReport
	if err := c.ShouldBindJSON(&sched); err != nil {
		badRequest(c, err)
		return
	}
	if sched.CreatedBy == "" {
		sched.CreatedBy = actor(c)
	}
	if err := s.deps.Scheduler.CreateSchedule(c.Request.Context(), &sched); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

type toggleScheduleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) toggleSchedule(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req toggleScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Scheduler.SetEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.deps.Scheduler.DeleteSchedule(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) scheduleRuns(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	runs, err := s.deps.Scheduler.Runs(c.Request.Context(), id, intQuery(c, "limit", 20))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}

// ---- integrations ----

func (s *Server) listConnectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connectors": s.deps.Integrations.Names()})
}

func (s *Server) connectorStatus(c *gin.Context) {
	status, err := s.deps.Integrations.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type syncRequest struct {
	Reference string `json:"reference" binding:"required"`
}

func (s *Server) connectorSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	name := c.Param("name")
	payload, err := s.deps.Integrations.Sync(c.Request.Context(), name, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "integration.synced", "connector", name)
	c.JSON(http.StatusOK, payload)
}

func (s *Server) connectorHistory(c *gin.Context) {
	items, err := s.deps.Integrations.History(c.Request.Context(),
		c.Query("connector"), intQuery(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
