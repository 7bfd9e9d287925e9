package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/napsa-zm/erm-platform/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	return NewRegistry(db, zap.NewNop())
}

func mockHTTP(name string) *HTTPConnector {
	return NewHTTPConnector(name, config.HTTPConnectorConfig{UseMock: true}, zap.NewNop())
}

func TestRegistryUnknownConnector(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Status(context.Background(), "sap")
	assert.ErrorIs(t, err, ErrUnknownConnector)

	_, err = r.Sync(context.Background(), "sap", "X")
	assert.ErrorIs(t, err, ErrUnknownConnector)
}

func TestRegistrySyncRecordsHistory(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(mockHTTP(NamePACRA))
	r.Register(mockHTTP(NameZRA))
	ctx := context.Background()

	payload, err := r.Sync(ctx, NamePACRA, "REG-12345")
	require.NoError(t, err)
	assert.Equal(t, "REG-12345", payload["registration_number"])
	assert.Equal(t, "active", payload["registration_status"])

	_, err = r.Sync(ctx, NameZRA, "1001234567")
	require.NoError(t, err)

	all, err := r.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pacraOnly, err := r.History(ctx, NamePACRA, 0)
	require.NoError(t, err)
	require.Len(t, pacraOnly, 1)
	assert.Equal(t, "success", pacraOnly[0].Outcome)

	assert.Equal(t, []string{NamePACRA, NameZRA}, r.Names())
}

func TestMockStatusIsHealthy(t *testing.T) {
	for _, name := range []string{NameGoAML, NamePACRA, NameZRA, NameCCPC} {
		s := mockHTTP(name).Status(context.Background())
		assert.True(t, s.Healthy, name)
		assert.Equal(t, "mock", s.Mode, name)
	}
}

func TestMockEnvelopesPerRegulator(t *testing.T) {
	ctx := context.Background()

	goaml, err := mockHTTP(NameGoAML).Sync(ctx, "INST-2024-001")
	require.NoError(t, err)
	assert.Equal(t, "compliant", goaml["aml_compliance_status"])

	zra, err := mockHTTP(NameZRA).Sync(ctx, "1001234567")
	require.NoError(t, err)
	assert.Equal(t, "valid", zra["tax_clearance"])

	ccpc, err := mockHTTP(NameCCPC).Sync(ctx, "CC-9")
	require.NoError(t, err)
	assert.Equal(t, "clear", ccpc["status"])
}

func TestLiveHTTPConnector(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		switch r.URL.Path {
		case "/status":
			w.WriteHeader(http.StatusOK)
		case "/sync":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			json.NewEncoder(w).Encode(map[string]any{"reference": body["reference"], "ok": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPConnector(NamePACRA, config.HTTPConnectorConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, zap.NewNop())

	s := c.Status(context.Background())
	assert.True(t, s.Healthy)
	assert.Equal(t, "live", s.Mode)
	assert.Equal(t, "test-key", gotKey)

	payload, err := c.Sync(context.Background(), "REG-7")
	require.NoError(t, err)
	assert.Equal(t, "REG-7", payload["reference"])
}

func TestLiveHTTPConnectorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPConnector(NameZRA, config.HTTPConnectorConfig{BaseURL: srv.URL}, zap.NewNop())

	s := c.Status(context.Background())
	assert.False(t, s.Healthy)

	_, err := c.Sync(context.Background(), "X")
	assert.ErrorIs(t, err, ErrRemote)
}

func TestSubmitReportMock(t *testing.T) {
	c := mockHTTP(NameGoAML)
	out, err := c.SubmitReport(context.Background(), "SAR-2026-abc", map[string]any{"narrative": "n"})
	require.NoError(t, err)
	assert.Equal(t, true, out["accepted"])
	assert.Equal(t, "RCP-SAR-2026-abc", out["receipt_number"])
}

func TestADConnectorMock(t *testing.T) {
	c := NewADConnector(config.ADConfig{UseMock: true, BaseDN: "DC=napsa,DC=local"}, zap.NewNop())
	ctx := context.Background()

	s := c.Status(ctx)
	assert.True(t, s.Healthy)

	u, err := c.LookupUser(ctx, "jmulenga")
	require.NoError(t, err)
	assert.Equal(t, "jmulenga@napsa.co.zm", u.Email)
	assert.Contains(t, u.DN, "CN=jmulenga")

	_, err = c.Authenticate(ctx, "jmulenga", "")
	assert.ErrorIs(t, err, ErrRemote)

	got, err := c.Authenticate(ctx, "jmulenga", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jmulenga", got.Username)
}

func TestOracleConnectorMock(t *testing.T) {
	c := NewOracleConnector(config.OracleConfig{UseMock: true}, zap.NewNop())
	ctx := context.Background()

	s := c.Status(ctx)
	assert.True(t, s.Healthy)

	payload, err := c.Sync(ctx, "CC-100")
	require.NoError(t, err)
	assert.Equal(t, "CC-100", payload["cost_center"])

	balances := payload["balances"].([]GLBalance)
	require.Len(t, balances, 3)
	var total float64
	for _, b := range balances {
		total += b.Balance
	}
	assert.InDelta(t, total, payload["total"].(float64), 0.001)
	assert.NoError(t, c.Close())
}
