package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/aml/screening"
	"github.com/napsa-zm/erm-platform/internal/aml/stream"
)

// ---- customers ----

func (s *Server) listCustomers(c *gin.Context) {
	items, err := s.deps.AML.ListCustomers(c.Request.Context(),
		aml.RiskRating(c.Query("risk_rating")),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createCustomer(c *gin.Context) {
	var cust aml.CustomerProfile
	if err := c.ShouldBindJSON(&cust); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.AML.CreateCustomer(c.Request.Context(), &cust); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "customer.created", "customer", cust.ID.String())
	c.JSON(http.StatusCreated, cust)
}

func (s *Server) getCustomer(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	cust, err := s.deps.AML.GetCustomer(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// ---- transactions ----

func (s *Server) listTransactions(c *gin.Context) {
	customerID := uuid.Nil
	if v := c.Query("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer_id"})
			return
		}
		customerID = id
	}
	items, err := s.deps.AML.ListTransactions(c.Request.Context(), customerID,
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// createTransaction persists the transaction and feeds it to the stream
// engine for real-time monitoring.
func (s *Server) createTransaction(c *gin.Context) {
	var t aml.Transaction
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.AML.CreateTransaction(c.Request.Context(), &t); err != nil {
		writeError(c, err)
		return
	}

	queued := false
	if s.deps.Engine != nil {
		queued = s.deps.Engine.IngestEvent(
			stream.NewTransactionEvent(t.ID, t.CustomerID, t.Amount, t.ExecutedAt))
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": t, "queued": queued})
}

// ---- alerts ----

func (s *Server) listAlerts(c *gin.Context) {
	f := aml.AlertFilter{
		Status:   aml.AlertStatus(c.Query("status")),
		Severity: aml.AlertSeverity(c.Query("severity")),
		Scenario: c.Query("scenario"),
		Limit:    intQuery(c, "limit", 50),
		Offset:   intQuery(c, "offset", 0),
	}
	if v := c.Query("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer_id"})
			return
		}
		f.CustomerID = id
	}
	items, total, err := s.deps.AML.ListAlerts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (s *Server) getAlert(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	alert, err := s.deps.AML.GetAlert(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	alert, err := s.deps.AML.AcknowledgeAlert(c.Request.Context(), id, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "alert.acknowledged", "alert", id.String())
	c.JSON(http.StatusOK, alert)
}

type resolveAlertRequest struct {
	Resolution    string `json:"resolution" binding:"required"`
	FalsePositive bool   `json:"false_positive"`
}

func (s *Server) resolveAlert(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req resolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	alert, err := s.deps.AML.ResolveAlert(c.Request.Context(), id,
		actor(c), req.Resolution, req.FalsePositive)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "alert.resolved", "alert", id.String())
	c.JSON(http.StatusOK, alert)
}

// ---- cases ----

func (s *Server) listCases(c *gin.Context) {
	items, total, err := s.deps.Cases.List(c.Request.Context(),
		aml.CaseStatus(c.Query("status")), c.Query("assigned_to"),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

type openCaseRequest struct {
	Title      string      `json:"title" binding:"required"`
	Summary    string      `json:"summary"`
	Priority   string      `json:"priority"`
	CustomerID *uuid.UUID  `json:"customer_id"`
	AssignedTo string      `json:"assigned_to"`
	AlertIDs   []uuid.UUID `json:"alert_ids"`
}

func (s *Server) openCase(c *gin.Context) {
	var req openCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cc := aml.ComplianceCase{
		Title:      req.Title,
		Summary:    req.Summary,
		Priority:   req.Priority,
		CustomerID: req.CustomerID,
		AssignedTo: req.AssignedTo,
	}
	if err := s.deps.Cases.Open(c.Request.Context(), &cc, req.AlertIDs); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "case.opened", "case", cc.CaseNumber)
	c.JSON(http.StatusCreated, cc)
}

func (s *Server) getCase(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	cc, err := s.deps.Cases.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cc)
}

type attachAlertRequest struct {
	AlertID uuid.UUID `json:"alert_id" binding:"required"`
}

func (s *Server) attachAlert(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req attachAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Cases.AttachAlert(c.Request.Context(), id, req.AlertID, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) transitionCase(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cc, err := s.deps.Cases.Transition(c.Request.Context(), id,
		aml.CaseStatus(req.Status), actor(c), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "case.transitioned", "case", cc.CaseNumber)
	c.JSON(http.StatusOK, cc)
}

func (s *Server) addCaseNote(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Cases.AddNote(c.Request.Context(), id, actor(c), req.Note); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type fileSARRequest struct {
	Narrative string `json:"narrative" binding:"required"`
}

func (s *Server) fileSAR(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req fileSARRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	report, err := s.deps.Cases.FileSAR(c.Request.Context(), id,
		s.deps.AML, req.Narrative, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "sar.drafted", "report", report.ReportNumber)
	c.JSON(http.StatusCreated, report)
}

// ---- regulatory reports ----

func (s *Server) listRegReports(c *gin.Context) {
	items, err := s.deps.AML.ListReports(c.Request.Context(),
		aml.ReportType(c.Query("type")), aml.ReportStatus(c.Query("status")),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) getRegReport(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	r, err := s.deps.AML.GetReport(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reportTransitionRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) transitionRegReport(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req reportTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := s.deps.AML.TransitionReport(c.Request.Context(), id,
		aml.ReportStatus(req.Status), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "report.transitioned", "report", r.ReportNumber)
	c.JSON(http.StatusOK, r)
}

// ---- screening and watchlist ----

func (s *Server) screeningCheck(c *gin.Context) {
	var q screening.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.FullName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "full_name is required"})
		return
	}
	result, err := s.deps.Screener.Screen(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listWatchlist(c *gin.Context) {
	listID := uint(intQuery(c, "list_id", 0))
	items, err := s.deps.AML.ListWatchlist(c.Request.Context(), listID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) upsertWatchlistEntry(c *gin.Context) {
	var e aml.WatchlistEntry
	if err := c.ShouldBindJSON(&e); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.AML.UpsertWatchlistEntry(c.Request.Context(), &e); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) createSanctionsList(c *gin.Context) {
	var l aml.SanctionsList
	if err := c.ShouldBindJSON(&l); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.AML.CreateSanctionsList(c.Request.Context(), &l); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// ---- stream ----

func (s *Server) streamStats(c *gin.Context) {
	if s.deps.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream engine not running"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Engine.Stats())
}

func (s *Server) streamEvents(c *gin.Context) {
	if s.deps.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream engine not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": s.deps.Engine.RecentEvents(intQuery(c, "limit", 100)),
	})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsAlerts upgrades the connection and subscribes it to the alert hub.
// The read loop only watches for the close frame.
func (s *Server) wsAlerts(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert feed not running"})
		return
	}
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.deps.Hub.Register(conn)
	go func() {
		defer s.deps.Hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
