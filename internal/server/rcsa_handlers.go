package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/napsa-zm/erm-platform/internal/erm/rcsa"
)

func (s *Server) listTemplates(c *gin.Context) {
	items, err := s.deps.RCSA.ListTemplates(c.Request.Context(),
		c.Query("include_inactive") == "true")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createTemplate(c *gin.Context) {
	var t rcsa.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if t.CreatedBy == "" {
		t.CreatedBy = actor(c)
	}
	if err := s.deps.RCSA.CreateTemplate(c.Request.Context(), &t); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) getTemplate(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	t, err := s.deps.RCSA.GetTemplate(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listRCSAAssessments(c *gin.Context) {
	items, err := s.deps.RCSA.ListAssessments(c.Request.Context(),
		c.Query("department"), rcsa.AssessmentStatus(c.Query("status")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type startAssessmentRequest struct {
	TemplateID uuid.UUID  `json:"template_id" binding:"required"`
	Title      string     `json:"title" binding:"required"`
	Department string     `json:"department" binding:"required"`
	Period     string     `json:"period"`
	DueDate    *time.Time `json:"due_date"`
}

func (s *Server) startAssessment(c *gin.Context) {
	var req startAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := s.deps.RCSA.StartAssessment(c.Request.Context(),
		req.TemplateID, req.Title, req.Department, req.Period, actor(c), req.DueDate)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "rcsa.started", "rcsa_assessment", a.ID.String())
	c.JSON(http.StatusCreated, a)
}

func (s *Server) getRCSAAssessment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	a, err := s.deps.RCSA.GetAssessment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) respond(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var r rcsa.Response
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	if r.RespondedBy == "" {
		r.RespondedBy = actor(c)
	}
	if err := s.deps.RCSA.Respond(c.Request.Context(), id, &r); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) submitAssessment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	a, err := s.deps.RCSA.Submit(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "rcsa.submitted", "rcsa_assessment", a.ID.String())
	c.JSON(http.StatusOK, a)
}

func (s *Server) approveAssessment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	a, err := s.deps.RCSA.Approve(c.Request.Context(), id, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	s.audit(c, "rcsa.approved", "rcsa_assessment", a.ID.String())
	c.JSON(http.StatusOK, a)
}

func (s *Server) addActionItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var item rcsa.ActionItem
	if err := c.ShouldBindJSON(&item); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.RCSA.AddActionItem(c.Request.Context(), id, &item); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) completeActionItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.deps.RCSA.CompleteActionItem(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
