// Package mysql provides a CredentialVerifier backed by a MySQL users table.
//
// The table needs two columns:
//
//	CREATE TABLE users (
//	    username      VARCHAR(255) NOT NULL PRIMARY KEY,
//	    password_hash VARCHAR(255) NOT NULL
//	);
//
// password_hash holds a bcrypt hash.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/providers"
)

const (
	// DefaultPingTimeout bounds the connection check in New
	DefaultPingTimeout = 5 * time.Second

	dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	selectUserQuery = `
		SELECT username, password_hash
		FROM users
		WHERE username = ?
	`
)

// Config holds MySQL connection settings. DSN, when set, takes precedence over
// the individual fields.
type Config struct {
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Database string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration

	Logger *slog.Logger
}

// Verifier looks users up in MySQL and checks their bcrypt password hash
type Verifier struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ providers.CredentialVerifier = (*Verifier)(nil)

// New opens the connection pool and verifies that the server is reachable.
func New(ctx context.Context, cfg Config) (*Verifier, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return NewWithDB(db, cfg.Logger), nil
}

// NewWithDB wraps an existing pool. The verifier takes ownership of db.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{db: db, logger: logger}
}

// Close closes the connection pool
func (v *Verifier) Close() error {
	return v.db.Close()
}

// Ping checks that the database is reachable. Used by health checks.
func (v *Verifier) Ping(ctx context.Context) error {
	return v.db.PingContext(ctx)
}

// VerifyUser implements providers.CredentialVerifier. Unknown users are compared
// against a dummy hash so they cost the same as a wrong password.
func (v *Verifier) VerifyUser(ctx context.Context, user, password string) (*providers.UserInfo, error) {
	var (
		userID string
		hash   string
	)

	err := v.db.QueryRowContext(ctx, selectUserQuery, user).Scan(&userID, &hash)
	found := true
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		found = false
		hash = dummyPasswordHash
	default:
		return nil, fmt.Errorf("query user: %w", err)
	}

	if cmpErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); cmpErr != nil || !found {
		return nil, providers.ErrInvalidCredentials
	}

	return &providers.UserInfo{ID: userID}, nil
}

func buildDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		parsed.ParseTime = true
		return parsed.FormatDSN(), nil
	}

	if cfg.Host == "" || cfg.Database == "" {
		return "", fmt.Errorf("mysql host and database are required")
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	mysqlCfg.DBName = cfg.Database
	mysqlCfg.ParseTime = true
	mysqlCfg.AllowNativePasswords = true
	mysqlCfg.Params = map[string]string{
		"charset": "utf8mb4",
	}

	return mysqlCfg.FormatDSN(), nil
}
