package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/aml/cases"
	"github.com/napsa-zm/erm-platform/internal/analytics/fedlearn"
	"github.com/napsa-zm/erm-platform/internal/analytics/netgraph"
	"github.com/napsa-zm/erm-platform/internal/erm"
	"github.com/napsa-zm/erm-platform/internal/erm/incident"
	"github.com/napsa-zm/erm-platform/internal/erm/kri"
	"github.com/napsa-zm/erm-platform/internal/erm/rcsa"
	"github.com/napsa-zm/erm-platform/internal/integrations"
	"github.com/napsa-zm/erm-platform/internal/org"
	"github.com/napsa-zm/erm-platform/internal/reports"
)

// statusRules maps service sentinel errors onto HTTP statuses. First
// match wins; unmatched errors become 500s.
var statusRules = []struct {
	err  error
	code int
}{
	{erm.ErrNotFound, http.StatusNotFound},
	{kri.ErrNotFound, http.StatusNotFound},
	{rcsa.ErrNotFound, http.StatusNotFound},
	{incident.ErrNotFound, http.StatusNotFound},
	{org.ErrNotFound, http.StatusNotFound},
	{aml.ErrNotFound, http.StatusNotFound},
	{cases.ErrNotFound, http.StatusNotFound},
	{reports.ErrNotFound, http.StatusNotFound},
	{fedlearn.ErrNotFound, http.StatusNotFound},
	{netgraph.ErrUnknownNode, http.StatusNotFound},
	{integrations.ErrUnknownConnector, http.StatusNotFound},

	{erm.ErrDuplicate, http.StatusConflict},
	{aml.ErrDuplicate, http.StatusConflict},
	{incident.ErrDuplicate, http.StatusConflict},

	{erm.ErrValidation, http.StatusBadRequest},
	{rcsa.ErrValidation, http.StatusBadRequest},
	{incident.ErrValidation, http.StatusBadRequest},
	{org.ErrValidation, http.StatusBadRequest},
	{aml.ErrValidation, http.StatusBadRequest},
	{cases.ErrValidation, http.StatusBadRequest},
	{reports.ErrValidation, http.StatusBadRequest},
	{fedlearn.ErrValidation, http.StatusBadRequest},
	{kri.ErrThresholdOrder, http.StatusBadRequest},
	{org.ErrCycle, http.StatusBadRequest},
	{reports.ErrUnknownKind, http.StatusBadRequest},
	{reports.ErrUnknownFormat, http.StatusBadRequest},

	{aml.ErrBadTransition, http.StatusConflict},
	{cases.ErrBadTransition, http.StatusConflict},
	{incident.ErrBadTransition, http.StatusConflict},
	{rcsa.ErrBadTransition, http.StatusConflict},
	{fedlearn.ErrNotEnoughPeers, http.StatusConflict},
	{fedlearn.ErrExperimentState, http.StatusConflict},

	{integrations.ErrRemote, http.StatusBadGateway},
}

func writeError(c *gin.Context, err error) {
	for _, rule := range statusRules {
		if errors.Is(err, rule.err) {
			c.JSON(rule.code, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// pathUUID parses a :param path segment as a UUID, writing the 400 itself
// on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
