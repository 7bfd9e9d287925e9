package integrations

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/config"
)

// NameOracle is the Oracle ERP connector name.
const NameOracle = "oracle"

// GLBalance is one general-ledger balance row pulled from the ERP.
type GLBalance struct {
	CostCenter string  `json:"cost_center"`
	Account    string  `json:"account"`
	Period     string  `json:"period"`
	Balance    float64 `json:"balance"`
}

// OracleConnector pulls financial figures from the Oracle ERP. The
// connection opens lazily on first use.
type OracleConnector struct {
	cfg    config.OracleConfig
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewOracleConnector builds the ERP connector from config.
func NewOracleConnector(cfg config.OracleConfig, logger *zap.Logger) *OracleConnector {
	return &OracleConnector{cfg: cfg, logger: logger}
}

func (c *OracleConnector) Name() string { return NameOracle }

func (c *OracleConnector) conn() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}
	db, err := sql.Open("oracle", c.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle open: %v", ErrRemote, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	c.db = db
	return db, nil
}

// Status pings the ERP, or reports healthy in mock mode.
func (c *OracleConnector) Status(ctx context.Context) Status {
	s := Status{Name: NameOracle, CheckedAt: time.Now().UTC()}
	if c.cfg.UseMock {
		s.Mode = "mock"
		s.Healthy = true
		return s
	}
	s.Mode = "live"

	db, err := c.conn()
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		s.Detail = err.Error()
		return s
	}
	s.Healthy = true
	return s
}

// Sync pulls the GL balances for one cost center.
func (c *OracleConnector) Sync(ctx context.Context, reference string) (map[string]any, error) {
	balances, err := c.FetchGLBalances(ctx, reference)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, b := range balances {
		total += b.Balance
	}
	return map[string]any{
		"cost_center": reference,
		"balances":    balances,
		"total":       total,
	}, nil
}

// FetchGLBalances reads current-period balances for a cost center.
func (c *OracleConnector) FetchGLBalances(ctx context.Context, costCenter string) ([]GLBalance, error) {
	if c.cfg.UseMock {
		period := time.Now().UTC().Format("2006-01")
		return []GLBalance{
			{CostCenter: costCenter, Account: "5010", Period: period, Balance: 1250000.00},
			{CostCenter: costCenter, Account: "5020", Period: period, Balance: 84000.50},
			{CostCenter: costCenter, Account: "6100", Period: period, Balance: -42500.25},
		}, nil
	}

	db, err := c.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT cost_center, account_code, period_name, NVL(closing_balance, 0)
		FROM gl_balances
		WHERE cost_center = :1
		ORDER BY account_code`, costCenter)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle query: %v", ErrRemote, err)
	}
	defer rows.Close()

	var out []GLBalance
	for rows.Next() {
		var b GLBalance
		if err := rows.Scan(&b.CostCenter, &b.Account, &b.Period, &b.Balance); err != nil {
			return nil, fmt.Errorf("%w: oracle scan: %v", ErrRemote, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: oracle rows: %v", ErrRemote, err)
	}
	return out, nil
}

// Close releases the ERP connection pool.
func (c *OracleConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
