package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/config"
)

// NameAD is the Active Directory connector name.
const NameAD = "ad"

// DirectoryUser is the subset of AD attributes the platform reads.
type DirectoryUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Department  string `json:"department"`
	DN          string `json:"dn"`
}

// ADConnector resolves users against Active Directory. Each call dials a
// fresh connection; AD sessions are short-lived by design here.
type ADConnector struct {
	cfg    config.ADConfig
	logger *zap.Logger

	// dial is replaceable in tests.
	dial func(addr string) (ldapConn, error)
}

type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// NewADConnector builds the AD connector from config.
func NewADConnector(cfg config.ADConfig, logger *zap.Logger) *ADConnector {
	return &ADConnector{
		cfg:    cfg,
		logger: logger,
		dial: func(addr string) (ldapConn, error) {
			return ldap.DialURL(addr)
		},
	}
}

func (c *ADConnector) Name() string { return NameAD }

// Status verifies the service bind, or reports healthy in mock mode.
func (c *ADConnector) Status(_ context.Context) Status {
	s := Status{Name: NameAD, CheckedAt: time.Now().UTC()}
	if c.cfg.UseMock {
		s.Mode = "mock"
		s.Healthy = true
		return s
	}
	s.Mode = "live"

	conn, err := c.dial(c.cfg.Address)
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	defer conn.Close()
	if err := conn.Bind(c.cfg.BindDN, c.cfg.Password); err != nil {
		s.Detail = err.Error()
		return s
	}
	s.Healthy = true
	return s
}

// Sync looks up one directory user by sAMAccountName.
func (c *ADConnector) Sync(ctx context.Context, reference string) (map[string]any, error) {
	u, err := c.LookupUser(ctx, reference)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"username":     u.Username,
		"display_name": u.DisplayName,
		"email":        u.Email,
		"department":   u.Department,
		"dn":           u.DN,
	}, nil
}

// LookupUser resolves a username to its directory entry.
func (c *ADConnector) LookupUser(_ context.Context, username string) (*DirectoryUser, error) {
	if c.cfg.UseMock {
		return &DirectoryUser{
			Username:    username,
			DisplayName: "Mock User",
			Email:       username + "@napsa.co.zm",
			Department:  "Risk and Compliance",
			DN:          fmt.Sprintf("CN=%s,%s", username, c.cfg.BaseDN),
		}, nil
	}

	conn, err := c.dial(c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: ad dial: %v", ErrRemote, err)
	}
	defer conn.Close()
	if err := conn.Bind(c.cfg.BindDN, c.cfg.Password); err != nil {
		return nil, fmt.Errorf("%w: ad bind: %v", ErrRemote, err)
	}

	req := ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 10, false,
		fmt.Sprintf("(&(objectClass=user)(sAMAccountName=%s))", ldap.EscapeFilter(username)),
		[]string{"displayName", "mail", "department"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ad search: %v", ErrRemote, err)
	}
	if len(res.Entries) == 0 {
		return nil, fmt.Errorf("user %s: %w", username, ErrUnknownConnector)
	}

	e := res.Entries[0]
	return &DirectoryUser{
		Username:    username,
		DisplayName: e.GetAttributeValue("displayName"),
		Email:       e.GetAttributeValue("mail"),
		Department:  e.GetAttributeValue("department"),
		DN:          e.DN,
	}, nil
}

// Authenticate binds as the user to verify credentials.
func (c *ADConnector) Authenticate(ctx context.Context, username, password string) (*DirectoryUser, error) {
	if c.cfg.UseMock {
		if password == "" {
			return nil, fmt.Errorf("%w: empty password", ErrRemote)
		}
		return c.LookupUser(ctx, username)
	}

	u, err := c.LookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: ad dial: %v", ErrRemote, err)
	}
	defer conn.Close()
	if err := conn.Bind(u.DN, password); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials: %v", ErrRemote, err)
	}
	return u, nil
}
