package executor

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/devrev/dbrouter/internal/model"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// Credentials describe how to log into every backend node.
type Credentials struct {
	User           string
	Password       string
	Database       string
	Port           int
	ConnectTimeout time.Duration
}

// NewDriver returns the driver registered under name ("mysql" or "postgres").
func NewDriver(name string, creds Credentials) (Driver, error) {
	switch name {
	case "", "mysql":
		return &MySQLDriver{creds: creds}, nil
	case "postgres", "postgresql":
		return &PostgresDriver{creds: creds}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", name)
	}
}

// MySQLDriver talks to MySQL nodes through database/sql.
type MySQLDriver struct {
	creds Credentials
}

// Open prepares a single-connection handle; the dial happens on Query.
func (d *MySQLDriver) Open(node model.BackendNode) (Conn, error) {
	cfg := mysql.NewConfig()
	cfg.User = d.creds.User
	cfg.Passwd = d.creds.Password
	cfg.DBName = d.creds.Database
	cfg.Net = "tcp"
	cfg.Addr = withPort(node.Address, d.creds.Port)
	cfg.Timeout = d.creds.ConnectTimeout

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql config: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)

	return &sqlConn{db: db}, nil
}

type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Query(ctx context.Context, text string) ([][]any, error) {
	rows, err := c.db.QueryContext(ctx, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, normalizeRow(values))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}

// PostgresDriver talks to PostgreSQL nodes through pgx.
type PostgresDriver struct {
	creds Credentials
}

// Open parses the connection config; the dial happens on Query.
func (d *PostgresDriver) Open(node model.BackendNode) (Conn, error) {
	host, port := splitHostPort(node.Address, d.creds.Port)

	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	cfg.Host = host
	cfg.Port = uint16(port)
	cfg.Database = d.creds.Database
	cfg.User = d.creds.User
	cfg.Password = d.creds.Password
	cfg.Fallbacks = nil
	if d.creds.ConnectTimeout > 0 {
		cfg.ConnectTimeout = d.creds.ConnectTimeout
	}
	// Client statements are arbitrary SQL, possibly several per request.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	return &pgxConn{cfg: cfg}, nil
}

type pgxConn struct {
	cfg  *pgx.ConnConfig
	conn *pgx.Conn
}

func (c *pgxConn) Query(ctx context.Context, text string) ([][]any, error) {
	if c.conn == nil {
		conn, err := pgx.ConnectConfig(ctx, c.cfg)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}

	rows, err := c.conn.Query(ctx, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([][]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result = append(result, normalizeRow(values))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *pgxConn) Close() error {
	if c.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Close(ctx)
}

// normalizeRow turns raw byte columns into strings so rows encode as readable JSON.
func normalizeRow(values []any) []any {
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values
}

func withPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

func splitHostPort(addr string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
