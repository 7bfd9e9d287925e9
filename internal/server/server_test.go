package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/napsa-zm/erm-platform/internal/aml"
	"github.com/napsa-zm/erm-platform/internal/aml/cases"
	"github.com/napsa-zm/erm-platform/internal/aml/screening"
	"github.com/napsa-zm/erm-platform/internal/aml/stream"
	"github.com/napsa-zm/erm-platform/internal/analytics/fedlearn"
	"github.com/napsa-zm/erm-platform/internal/analytics/netgraph"
	"github.com/napsa-zm/erm-platform/internal/analytics/sentiment"
	"github.com/napsa-zm/erm-platform/internal/audit"
	"github.com/napsa-zm/erm-platform/internal/auth"
	"github.com/napsa-zm/erm-platform/internal/config"
	"github.com/napsa-zm/erm-platform/internal/erm"
	"github.com/napsa-zm/erm-platform/internal/erm/incident"
	"github.com/napsa-zm/erm-platform/internal/erm/kri"
	"github.com/napsa-zm/erm-platform/internal/erm/rcsa"
	"github.com/napsa-zm/erm-platform/internal/integrations"
	"github.com/napsa-zm/erm-platform/internal/org"
	"github.com/napsa-zm/erm-platform/internal/reports"
)

type env struct {
	t      *testing.T
	router *gin.Engine
	auth   *auth.Manager
	deps   Deps
	store  *aml.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	var models []any
	for _, g := range [][]any{
		erm.Models(), kri.Models(), rcsa.Models(), incident.Models(),
		org.Models(), aml.Models(), reports.Models(), integrations.Models(),
	} {
		models = append(models, g...)
	}
	require.NoError(t, db.AutoMigrate(models...))

	ledgerDSN := fmt.Sprintf("file:%s_ledger?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	ledgerDB, err := gorm.Open(sqlite.Open(ledgerDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	ledger, err := audit.NewLedger(ledgerDB, config.AuditConfig{
		Difficulty: 1, BlockSize: 2, FlushInterval: time.Hour,
	}, nil, log)
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{},
		JWT:         config.JWTConfig{Secret: "test-secret", Issuer: "erm-platform", ExpirationHours: 1},
	}

	store := aml.NewStore(db, log)
	hub := stream.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Close)

	engine := stream.NewEngine(config.StreamConfig{
		QueueSize: 64, Workers: 1,
		LargeAmountThreshold: 1e12, StructuringThreshold: 1e12,
		VelocityThreshold: 1 << 30,
	}, store, nil, hub, log)

	riskSvc := erm.NewService(db, log)
	kriSvc := kri.NewService(db, engine, log)
	generator := reports.NewGenerator(riskSvc, kriSvc, store, log)
	registry := integrations.NewRegistry(db, log)
	registry.Register(integrations.NewHTTPConnector(integrations.NamePACRA,
		config.HTTPConnectorConfig{UseMock: true}, log))
	registry.Register(integrations.NewHTTPConnector(integrations.NameZRA,
		config.HTTPConnectorConfig{UseMock: true}, log))

	mgr := auth.NewManager(cfg.JWT)
	deps := Deps{
		Config: cfg,
		Logger: log,
		Auth:   mgr,
		Directory: integrations.NewADConnector(
			config.ADConfig{UseMock: true, BaseDN: "DC=napsa,DC=local"}, log),
		Risks:        riskSvc,
		KRIs:         kriSvc,
		RCSA:         rcsa.NewService(db, log),
		Incidents:    incident.NewService(db, log),
		Org:          org.NewService(db, log),
		AML:          store,
		Cases:        cases.NewService(db, log),
		Screener:     screening.NewScreener(config.ScreeningConfig{MatchThreshold: 0.75}, store, store, nil, log),
		Engine:       engine,
		Hub:          hub,
		Ledger:       ledger,
		Generator:    generator,
		Scheduler:    reports.NewScheduler(db, generator, t.TempDir(), time.Hour, log),
		Sentiment:    sentiment.NewAnalyzer(),
		Graph:        netgraph.NewAnalyzer(),
		FedLearn:     fedlearn.NewCoordinator(log, 42),
		Integrations: registry,
	}
	srv, err := New(deps)
	require.NoError(t, err)
	return &env{t: t, router: srv.Router(), auth: mgr, deps: deps, store: store}
}

func (e *env) token(role auth.Role) string {
	e.t.Helper()
	tok, err := e.auth.Issue("tester", role, "Risk")
	require.NoError(e.t, err)
	return tok
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusUnauthorized,
		e.do(http.MethodGet, "/api/v1/risks", "", nil).Code)
}

func TestLoginAgainstDirectory(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/api/v1/auth/login", "",
		gin.H{"username": "jmulenga", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	// the mock directory places everyone in Risk and Compliance
	assert.Equal(t, "officer", out["role"])

	token := out["token"].(string)
	assert.Equal(t, http.StatusOK,
		e.do(http.MethodGet, "/api/v1/risks", token, nil).Code)

	w = e.do(http.MethodPost, "/api/v1/auth/refresh", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginRejectsMissingPassword(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/api/v1/auth/login", "",
		gin.H{"username": "jmulenga", "password": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRiskLifecycle(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/risks", analyst, gin.H{
		"title": "Pension system outage", "likelihood": 4, "impact": 5,
		"department": "ICT",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.True(t, strings.HasPrefix(id, "RISK-"), id)
	assert.InDelta(t, 20.0, created["inherent_risk_score"], 0.001)

	w = e.do(http.MethodGet, "/api/v1/risks/"+id, analyst, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodPut, "/api/v1/risks/"+id, analyst, gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", decode(t, w)["status"])

	w = e.do(http.MethodGet, "/api/v1/risks?department=ICT", analyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = e.do(http.MethodGet, "/api/v1/risks/RISK-2020-9999", analyst, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViewerCannotMutate(t *testing.T) {
	e := newEnv(t)
	viewer := e.token(auth.RoleViewer)

	w := e.do(http.MethodPost, "/api/v1/risks", viewer, gin.H{
		"title": "x", "likelihood": 1, "impact": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, http.StatusOK,
		e.do(http.MethodGet, "/api/v1/risks", viewer, nil).Code)
}

func TestControlLinking(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/risks", analyst, gin.H{
		"title": "Unauthorized benefit payments", "likelihood": 3, "impact": 4,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	riskID := decode(t, w)["id"].(string)

	w = e.do(http.MethodPost, "/api/v1/controls", analyst, gin.H{
		"code": "CTL-001", "name": "Dual approval", "type": "preventive",
		"effectiveness_rating": 80,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	controlID := decode(t, w)["id"].(string)

	// duplicate code conflicts
	w = e.do(http.MethodPost, "/api/v1/controls", analyst, gin.H{
		"code": "CTL-001", "name": "Copy", "type": "preventive",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/api/v1/risks/"+riskID+"/controls", analyst, gin.H{
		"control_id": controlID, "coverage_percentage": 100, "criticality": "high",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/api/v1/risks/"+riskID+"/controls", analyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)
}

func TestKRIMeasurementMovesStatus(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/kris", analyst, gin.H{
		"name":           "Contribution arrears ratio",
		"lower_critical": 10, "lower_warning": 20,
		"upper_warning": 80, "upper_critical": 90,
		"current_value": 50,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "green", created["status"])
	id := created["id"].(string)

	w = e.do(http.MethodPost, "/api/v1/kris/"+id+"/measurements", analyst,
		gin.H{"value": 95, "notes": "month-end spike"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "red", out["kri"].(map[string]any)["status"])

	// band ordering enforced
	w = e.do(http.MethodPost, "/api/v1/kris", analyst, gin.H{
		"name": "bad", "lower_critical": 50, "lower_warning": 20,
		"upper_warning": 80, "upper_critical": 90,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentTransitionGates(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/incidents", analyst, gin.H{
		"title": "Core banking link down", "type": "system_failure",
		"severity": "high", "detected_at": time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.True(t, strings.HasPrefix(created["incident_number"].(string), "INC-"))

	// cannot skip the investigation step
	w = e.do(http.MethodPost, "/api/v1/incidents/"+id+"/transition", analyst,
		gin.H{"status": "contained"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/api/v1/incidents/"+id+"/transition", analyst,
		gin.H{"status": "investigating", "note": "paging ICT"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "investigating", decode(t, w)["status"])
}

func TestTransactionIsQueuedForMonitoring(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/aml/customers", analyst, gin.H{
		"customer_number": "NAPSA-000123", "full_name": "Mary Phiri",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	customerID := decode(t, w)["id"].(string)

	w = e.do(http.MethodPost, "/api/v1/aml/transactions", analyst, gin.H{
		"customer_id": customerID, "amount": "1500.00",
		"direction": "credit", "channel": "mobile",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["queued"])

	w = e.do(http.MethodGet, "/api/v1/aml/transactions?customer_id="+customerID, analyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)
}

func TestCaseEscalationAndSAR(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)

	w := e.do(http.MethodPost, "/api/v1/aml/cases", officer, gin.H{
		"title": "Structuring pattern on NAPSA-77", "priority": "high",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	// SAR filing requires an escalated case
	w = e.do(http.MethodPost, "/api/v1/aml/cases/"+id+"/sar", officer,
		gin.H{"narrative": "too early"})
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, status := range []string{"investigating", "escalated"} {
		w = e.do(http.MethodPost, "/api/v1/aml/cases/"+id+"/transition", officer,
			gin.H{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/api/v1/aml/cases/"+id+"/sar", officer,
		gin.H{"narrative": "Repeated sub-threshold deposits aggregating K95,000."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := decode(t, w)
	assert.True(t, strings.HasPrefix(report["report_number"].(string), "SAR-"))
	assert.Equal(t, "draft", report["status"])
}

func TestAnalystCannotTransitionCase(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/aml/cases", officer, gin.H{"title": "t"})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = e.do(http.MethodPost, "/api/v1/aml/cases/"+id+"/transition", analyst,
		gin.H{"status": "investigating"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestScreeningHitRaisesAlert(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)

	w := e.do(http.MethodPost, "/api/v1/aml/watchlist/lists", officer,
		gin.H{"code": "OFAC", "name": "OFAC SDN"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	listID := decode(t, w)["id"]

	w = e.do(http.MethodPost, "/api/v1/aml/watchlist", officer, gin.H{
		"list_id": listID, "full_name": "John Banda", "country": "ZM",
		"program": "narcotics",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/v1/aml/screening/check", officer,
		gin.H{"full_name": "John Banda", "country": "ZM"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, false, out["clear"])
	assert.NotEmpty(t, out["hits"])

	w = e.do(http.MethodGet, "/api/v1/aml/alerts?scenario=screening_hit", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])
}

func TestGenerateRiskRegisterCSV(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/risks", analyst, gin.H{
		"title": "Vendor concentration", "likelihood": 2, "impact": 3,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	riskID := decode(t, w)["id"].(string)

	w = e.do(http.MethodGet, "/api/v1/reports/generate?kind=risk_register&format=csv", analyst, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, w.Body.String(), riskID)

	w = e.do(http.MethodGet, "/api/v1/reports/generate?kind=nope&format=csv", analyst, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleCRUD(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)

	w := e.do(http.MethodPost, "/api/v1/reports/schedules", officer, gin.H{
		"name": "daily register", "kind": "risk_register",
		"format": "csv", "frequency": "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = e.do(http.MethodGet, "/api/v1/reports/schedules", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = e.do(http.MethodPatch, "/api/v1/reports/schedules/"+id, officer,
		gin.H{"enabled": false})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodDelete, "/api/v1/reports/schedules/"+id, officer, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(http.MethodDelete, "/api/v1/reports/schedules/"+id, officer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditTrailEndpoints(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)

	w := e.do(http.MethodPost, "/api/v1/audit/events", officer, gin.H{
		"event_type": "policy.updated", "entity_type": "policy", "entity_id": "POL-9",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	e.deps.Ledger.Flush()

	w = e.do(http.MethodGet, "/api/v1/audit/trail?entity_type=policy", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["items"])

	w = e.do(http.MethodPost, "/api/v1/audit/verify", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])

	w = e.do(http.MethodGet, "/api/v1/audit/stats", officer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIntegrationEndpoints(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)

	w := e.do(http.MethodGet, "/api/v1/integrations", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/v1/integrations/pacra/status", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["healthy"])

	w = e.do(http.MethodPost, "/api/v1/integrations/pacra/sync", officer,
		gin.H{"reference": "REG-555"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", decode(t, w)["registration_status"])

	w = e.do(http.MethodGet, "/api/v1/integrations/sap/status", officer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/api/v1/integrations/history?connector=pacra", officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)
}

func TestSentimentEndpoint(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/analytics/sentiment", analyst, gin.H{
		"texts": []string{"severe breach caused critical losses", "controls improved and stable"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	agg := out["aggregate"].(map[string]any)
	sum := agg["positive"].(float64) + agg["negative"].(float64) + agg["neutral"].(float64)
	assert.InDelta(t, 100.0, sum, 0.01)

	w = e.do(http.MethodPost, "/api/v1/analytics/sentiment", analyst, gin.H{"texts": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFederatedLearningFlow(t *testing.T) {
	e := newEnv(t)
	officer := e.token(auth.RoleOfficer)

	w := e.do(http.MethodPost, "/api/v1/analytics/fedlearn/experiments", officer,
		gin.H{"name": "fraud-detector", "min_participants": 2, "max_rounds": 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	expID := decode(t, w)["id"].(string)

	// quorum not met yet
	w = e.do(http.MethodPost, "/api/v1/analytics/fedlearn/rounds", officer,
		gin.H{"experiment_id": expID})
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, name := range []string{"lusaka", "ndola"} {
		w = e.do(http.MethodPost, "/api/v1/analytics/fedlearn/participants", officer,
			gin.H{"name": name, "data_samples": 1000})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w = e.do(http.MethodPost, "/api/v1/analytics/fedlearn/rounds", officer,
		gin.H{"experiment_id": expID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/api/v1/analytics/fedlearn/rounds/"+expID, officer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = e.do(http.MethodPost, "/api/v1/analytics/fedlearn/rounds", officer,
		gin.H{"experiment_id": "fl-missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCustomerNetworkEndpoint(t *testing.T) {
	e := newEnv(t)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/aml/customers", analyst, gin.H{
		"customer_number": "NAPSA-000200", "full_name": "Alice Mwale",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	customerID := decode(t, w)["id"].(string)

	w = e.do(http.MethodPost, "/api/v1/aml/transactions", analyst, gin.H{
		"customer_id": customerID, "amount": "2000", "counterparty": "Acme Ltd",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(http.MethodPost, "/api/v1/analytics/network/rebuild", analyst, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.EqualValues(t, 2, out["nodes"])
	assert.EqualValues(t, 1, out["edges"])

	w = e.do(http.MethodGet, "/api/v1/analytics/network/"+customerID, analyst, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/api/v1/analytics/network/"+uuid.NewString(), analyst, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrgUnitAdminOnly(t *testing.T) {
	e := newEnv(t)
	admin := e.token(auth.RoleAdmin)
	analyst := e.token(auth.RoleAnalyst)

	w := e.do(http.MethodPost, "/api/v1/org-units", analyst,
		gin.H{"name": "Risk Directorate", "code": "RD"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPost, "/api/v1/org-units", admin,
		gin.H{"name": "Risk Directorate", "code": "RD"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = e.do(http.MethodPost, "/api/v1/org-units", admin,
		gin.H{"name": "Compliance Unit", "code": "CU", "parent_id": id})
	require.Equal(t, http.StatusCreated, w.Code)

	// delete without force fails while children exist
	w = e.do(http.MethodDelete, "/api/v1/org-units/"+id, admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodDelete, "/api/v1/org-units/"+id+"?force=true", admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)
	e.deps.Config.Server.RateLimit = "2-H"
	srv, err := New(e.deps)
	require.NoError(t, err)

	var last int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "10.1.2.3:5000"
		srv.Router().ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
