package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/napsa-zm/erm-platform/internal/erm"
	"github.com/napsa-zm/erm-platform/internal/erm/incident"
	"github.com/napsa-zm/erm-platform/internal/erm/kri"
	"github.com/napsa-zm/erm-platform/internal/org"
)

// ---- risk register ----

func (s *Server) listRisks(c *gin.Context) {
	f := erm.RiskFilter{
		Status:     erm.RiskStatus(c.Query("status")),
		Department: c.Query("department"),
		Limit:      intQuery(c, "limit", 50),
		Offset:     intQuery(c, "offset", 0),
	}
	risks, total, err := s.deps.Risks.ListRisks(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": risks, "total": total})
}

func (s *Server) createRisk(c *gin.Context) {
	var risk erm.Risk
	if err := c.ShouldBindJSON(&risk); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Risks.CreateRisk(c.Request.Context(), &risk); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "risk.created", "risk", risk.ID)
	c.JSON(http.StatusCreated, risk)
}

func (s *Server) getRisk(c *gin.Context) {
	risk, err := s.deps.Risks.GetRisk(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, risk)
}

func (s *Server) updateRisk(c *gin.Context) {
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		badRequest(c, err)
		return
	}
	risk, err := s.deps.Risks.UpdateRisk(c.Request.Context(), c.Param("id"), updates)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "risk.updated", "risk", risk.ID)
	c.JSON(http.StatusOK, risk)
}

func (s *Server) deleteRisk(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Risks.DeleteRisk(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "risk.deleted", "risk", id)
	c.Status(http.StatusNoContent)
}

func (s *Server) listRiskControls(c *gin.Context) {
	links, err := s.deps.Risks.ListRiskControls(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": links})
}

type linkControlRequest struct {
	ControlID   uuid.UUID `json:"control_id" binding:"required"`
	Coverage    float64   `json:"coverage_percentage"`
	Criticality string    `json:"criticality"`
}

func (s *Server) linkControl(c *gin.Context) {
	var req linkControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	link, err := s.deps.Risks.LinkControl(c.Request.Context(),
		c.Param("id"), req.ControlID, req.Coverage, req.Criticality)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (s *Server) listRiskAssessments(c *gin.Context) {
	items, err := s.deps.Risks.ListAssessments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createRiskAssessment(c *gin.Context) {
	var a erm.RiskAssessment
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a.RiskID = c.Param("id")
	if a.AssessorID == "" {
		a.AssessorID = actor(c)
	}
	if err := s.deps.Risks.CreateAssessment(c.Request.Context(), &a); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "risk.assessed", "risk", a.RiskID)
	c.JSON(http.StatusCreated, a)
}

func (s *Server) listCategories(c *gin.Context) {
	items, err := s.deps.Risks.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createCategory(c *gin.Context) {
	var cat erm.RiskCategory
	if err := c.ShouldBindJSON(&cat); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Risks.CreateCategory(c.Request.Context(), &cat); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

// ---- controls ----

func (s *Server) listControls(c *gin.Context) {
	items, err := s.deps.Risks.ListControls(c.Request.Context(),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createControl(c *gin.Context) {
	var control erm.Control
	if err := c.ShouldBindJSON(&control); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Risks.CreateControl(c.Request.Context(), &control); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "control.created", "control", control.ID.String())
	c.JSON(http.StatusCreated, control)
}

func (s *Server) getControl(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	control, err := s.deps.Risks.GetControl(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, control)
}

func (s *Server) updateControl(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var control erm.Control
	if err := c.ShouldBindJSON(&control); err != nil {
		badRequest(c, err)
		return
	}
	control.ID = id
	if err := s.deps.Risks.UpdateControl(c.Request.Context(), &control); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "control.updated", "control", id.String())
	c.JSON(http.StatusOK, control)
}

func (s *Server) deleteControl(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.deps.Risks.DeleteControl(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- key risk indicators ----

func (s *Server) listKRIs(c *gin.Context) {
	items, err := s.deps.KRIs.List(c.Request.Context(),
		kri.Status(c.Query("status")), c.Query("risk_id"),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createKRI(c *gin.Context) {
	var k kri.KeyRiskIndicator
	if err := c.ShouldBindJSON(&k); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.KRIs.Create(c.Request.Context(), &k); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "kri.created", "kri", k.ID.String())
	c.JSON(http.StatusCreated, k)
}

func (s *Server) kriSummary(c *gin.Context) {
	summary, err := s.deps.KRIs.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getKRI(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	k, err := s.deps.KRIs.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

type kriUpdateRequest struct {
	Name             *string  `json:"name"`
	Description      *string  `json:"description"`
	TargetValue      *float64 `json:"target_value"`
	ResponsibleParty *string  `json:"responsible_party"`
	DataSource       *string  `json:"data_source"`
}

func (s *Server) updateKRI(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req kriUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	k, err := s.deps.KRIs.Update(c.Request.Context(), id, func(k *kri.KeyRiskIndicator) {
		if req.Name != nil {
			k.Name = *req.Name
		}
		if req.Description != nil {
			k.Description = *req.Description
		}
		if req.TargetValue != nil {
			k.TargetValue = *req.TargetValue
		}
		if req.ResponsibleParty != nil {
			k.ResponsibleParty = *req.ResponsibleParty
		}
		if req.DataSource != nil {
			k.DataSource = *req.DataSource
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, k)
}

func (s *Server) deleteKRI(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.deps.KRIs.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type measurementRequest struct {
	Value      float64    `json:"value" binding:"required"`
	Notes      string     `json:"notes"`
	MeasuredAt *time.Time `json:"measured_at"`
}

func (s *Server) addMeasurement(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req measurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	at := time.Now().UTC()
	if req.MeasuredAt != nil {
		at = *req.MeasuredAt
	}
	m, k, err := s.deps.KRIs.AddMeasurement(c.Request.Context(), id, req.Value, req.Notes, at)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"measurement": m, "kri": k})
}

// ---- incidents ----

func (s *Server) listIncidents(c *gin.Context) {
	items, err := s.deps.Incidents.List(c.Request.Context(),
		incident.Status(c.Query("status")), incident.Severity(c.Query("severity")),
		intQuery(c, "limit", 50), intQuery(c, "offset", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createIncident(c *gin.Context) {
	var inc incident.Incident
	if err := c.ShouldBindJSON(&inc); err != nil {
		badRequest(c, err)
		return
	}
	if inc.ReportedBy == "" {
		inc.ReportedBy = actor(c)
	}
	if err := s.deps.Incidents.Create(c.Request.Context(), &inc); err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "incident.created", "incident", inc.IncidentNumber)
	c.JSON(http.StatusCreated, inc)
}

func (s *Server) getIncident(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	inc, err := s.deps.Incidents.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (s *Server) updateIncident(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		badRequest(c, err)
		return
	}
	inc, err := s.deps.Incidents.Update(c.Request.Context(), id, updates)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inc)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (s *Server) transitionIncident(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	inc, err := s.deps.Incidents.Transition(c.Request.Context(), id,
		incident.Status(req.Status), actor(c), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "incident.transitioned", "incident", inc.IncidentNumber)
	c.JSON(http.StatusOK, inc)
}

type noteRequest struct {
	Note string `json:"note" binding:"required"`
}

func (s *Server) addIncidentNote(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Incidents.AddNote(c.Request.Context(), id, actor(c), req.Note); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// ---- organisational units ----

func (s *Server) listUnits(c *gin.Context) {
	items, err := s.deps.Org.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) orgTree(c *gin.Context) {
	tree, err := s.deps.Org.Tree(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": tree})
}

func (s *Server) createUnit(c *gin.Context) {
	var u org.Unit
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Org.Create(c.Request.Context(), &u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) getUnit(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	u, err := s.deps.Org.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type unitUpdateRequest struct {
	Name      string     `json:"name"`
	HeadName  string     `json:"head_name"`
	HeadEmail string     `json:"head_email"`
	ParentID  *uuid.UUID `json:"parent_id"`
}

func (s *Server) updateUnit(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req unitUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := s.deps.Org.Update(c.Request.Context(), id,
		req.Name, req.HeadName, req.HeadEmail, req.ParentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) deleteUnit(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	force := c.Query("force") == "true"
	if err := s.deps.Org.Delete(c.Request.Context(), id, force); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
