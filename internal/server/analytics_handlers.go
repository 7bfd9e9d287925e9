package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/napsa-zm/erm-platform/internal/analytics/sentiment"
	"github.com/napsa-zm/erm-platform/internal/erm"
)

// ---- sentiment ----

type sentimentRequest struct {
	Texts []string `json:"texts" binding:"required,min=1"`
}

func (s *Server) analyzeSentiment(c *gin.Context) {
	var req sentimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scores := make([]sentiment.Scores, 0, len(req.Texts))
	for _, text := range req.Texts {
		scores = append(scores, s.deps.Sentiment.Analyze(text))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":     scores,
		"aggregate": sentiment.Aggregate(scores),
	})
}

// sentimentOverview scores the narrative text held in the register, the
// latest assessments and recent incidents.
func (s *Server) sentimentOverview(c *gin.Context) {
	ctx := c.Request.Context()

	risks, _, err := s.deps.Risks.ListRisks(ctx, erm.RiskFilter{Limit: 200})
	if err != nil {
		writeError(c, err)
		return
	}
	var riskScores, assessmentScores []sentiment.Scores
	for _, r := range risks {
		if r.Description != "" {
			riskScores = append(riskScores, s.deps.Sentiment.Analyze(r.Description))
		}
		assessments, err := s.deps.Risks.ListAssessments(ctx, r.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, a := range assessments {
			if a.Notes != "" {
				assessmentScores = append(assessmentScores, s.deps.Sentiment.Analyze(a.Notes))
			}
		}
	}

	incidents, err := s.deps.Incidents.List(ctx, "", "", 200, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	var incidentScores []sentiment.Scores
	for _, inc := range incidents {
		if inc.Description != "" {
			incidentScores = append(incidentScores, s.deps.Sentiment.Analyze(inc.Description))
		}
	}

	overview := sentiment.Combine(
		sentiment.Aggregate(riskScores),
		sentiment.Aggregate(assessmentScores),
		sentiment.Aggregate(incidentScores),
	)
	c.JSON(http.StatusOK, overview)
}

// ---- transaction network ----

// rebuildNetwork reloads the graph from the customer and transaction
// tables.
func (s *Server) rebuildNetwork(c *gin.Context) {
	ctx := c.Request.Context()

	customers, err := s.deps.AML.ListCustomers(ctx, "", 10000, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	txns, err := s.deps.AML.ListTransactions(ctx, uuid.Nil, 50000, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	s.deps.Graph.Rebuild(customers, txns)
	nodes, edges := s.deps.Graph.Size()
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "edges": edges})
}

func (s *Server) networkStats(c *gin.Context) {
	nodes, edges := s.deps.Graph.Size()
	components := s.deps.Graph.Components()
	c.JSON(http.StatusOK, gin.H{
		"nodes":      nodes,
		"edges":      edges,
		"components": len(components),
		"centrality": s.deps.Graph.CentralityScores(),
	})
}

func (s *Server) customerNetwork(c *gin.Context) {
	id, ok := pathUUID(c, "customerID")
	if !ok {
		return
	}
	hops := intQuery(c, "hops", 2)
	neighborhood, err := s.deps.Graph.CustomerNetwork(id, hops)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, neighborhood)
}

// ---- federated learning ----

func (s *Server) listExperiments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.deps.FedLearn.ListExperiments()})
}

type createExperimentRequest struct {
	Name            string `json:"name" binding:"required"`
	ModelType       string `json:"model_type"`
	MinParticipants int    `json:"min_participants"`
	MaxRounds       int    `json:"max_rounds"`
}

func (s *Server) createExperiment(c *gin.Context) {
	var req createExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	exp, err := s.deps.FedLearn.CreateExperiment(req.Name, req.ModelType,
		req.MinParticipants, req.MaxRounds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

func (s *Server) getExperiment(c *gin.Context) {
	exp, err := s.deps.FedLearn.GetExperiment(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

type registerParticipantRequest struct {
	Name        string `json:"name" binding:"required"`
	DataSamples int    `json:"data_samples" binding:"required,min=1"`
}

func (s *Server) registerParticipant(c *gin.Context) {
	var req registerParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.deps.FedLearn.RegisterParticipant(req.Name, req.DataSamples)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) experimentRounds(c *gin.Context) {
	exp, err := s.deps.FedLearn.GetExperiment(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": exp.Rounds, "status": exp.Status})
}

type runRoundRequest struct {
	ExperimentID string `json:"experiment_id" binding:"required"`
}

func (s *Server) runRound(c *gin.Context) {
	var req runRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	round, err := s.deps.FedLearn.RunRound(req.ExperimentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, round)
}
