package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/fault"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// DefaultPingTimeout bounds the connectivity check done by Open.
const DefaultPingTimeout = 10 * time.Second

// DB wraps a relational connection pool opened for one step run.
type DB struct {
	*sql.DB
	driver string
	target string
}

// Options describe how to reach the relational store.
type Options struct {
	Driver      string
	URL         string
	User        string
	Password    string
	PingTimeout time.Duration
}

// OptionsFromConfig reads the database.* keys.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	target, err := cfg.Require(config.KeyDBURL)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Driver:   cfg.StringOr(config.KeyDBDriver, DriverMySQL),
		URL:      target,
		User:     cfg.String(config.KeyDBUser),
		Password: cfg.String(config.KeyDBPassword),
	}, nil
}

// Validate checks that the options name a supported driver and a target.
func (o Options) Validate() error {
	if o.URL == "" {
		return fault.MissingKey(config.KeyDBURL)
	}
	switch o.Driver {
	case DriverMySQL, DriverSQLite:
		return nil
	default:
		return fault.Configuration.New("unsupported %s %q (use %s or %s)", config.KeyDBDriver, o.Driver, DriverMySQL, DriverSQLite)
	}
}

// Open opens the store and verifies it answers within the ping timeout.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverMySQL
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var dsn, target string
	switch opts.Driver {
	case DriverMySQL:
		cfg, err := mysqlConfig(opts.URL, opts.User, opts.Password)
		if err != nil {
			return nil, err
		}
		dsn, target = cfg.FormatDSN(), cfg.Addr+"/"+cfg.DBName
	case DriverSQLite:
		path := strings.TrimPrefix(opts.URL, "sqlite://")
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn, target = sqliteDSN(path), path
	}

	sqlDB, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fault.Connectivity.New("database %s unreachable: %v", target, err)
	}

	return &DB{DB: sqlDB, driver: opts.Driver, target: target}, nil
}

// Wrap adopts an already open pool.
func Wrap(sqlDB *sql.DB, driver string) *DB {
	return &DB{DB: sqlDB, driver: driver}
}

// Driver returns the driver name.
func (db *DB) Driver() string { return db.driver }

// Target returns the address/database (mysql) or file path (sqlite) without credentials.
func (db *DB) Target() string { return db.target }

// sqliteDSN applies the pragmas as connection parameters so every pooled
// connection gets them.
func sqliteDSN(path string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + params.Encode()
}

// mysqlConfig accepts either a JDBC style URL (jdbc:mysql://host:port/db?...)
// or a native go-sql-driver DSN. JDBC query parameters are not carried over.
func mysqlConfig(raw, user, password string) (*mysql.Config, error) {
	var cfg *mysql.Config
	if !strings.Contains(raw, "://") {
		parsed, err := mysql.ParseDSN(raw)
		if err != nil {
			return nil, fault.Configuration.New("invalid %s: %v", config.KeyDBURL, err)
		}
		cfg = parsed
	} else {
		u, err := url.Parse(strings.TrimPrefix(raw, "jdbc:"))
		if err != nil {
			return nil, fault.Configuration.New("invalid %s: %v", config.KeyDBURL, err)
		}
		if u.Scheme != "mysql" {
			return nil, fault.Configuration.New("invalid %s: unsupported scheme %q", config.KeyDBURL, u.Scheme)
		}
		cfg = mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			cfg.Addr = net.JoinHostPort(u.Host, "3306")
		}
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
	}
	if user != "" {
		cfg.User = user
	}
	if password != "" {
		cfg.Passwd = password
	}
	cfg.ParseTime = true
	return cfg, nil
}
