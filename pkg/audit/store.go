// Package audit persists every translation attempt and its outcome to a
// relational store.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kubenl/kubenl/pkg/config"
)

// DBType selects the backing database.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
	DBTypeMariaDB  DBType = "mariadb"
	DBTypeMySQL    DBType = "mysql"
)

// UserAction records how an attempt terminated.
type UserAction string

const (
	ActionExecuted  UserAction = "executed"
	ActionCancelled UserAction = "cancelled"
	ActionEdited    UserAction = "edited"
)

// Entry is one durable audit record. Nullable columns are pointers:
// Confidence is nil for directly entered commands, ExitCode and
// DurationMS are nil when nothing ran.
type Entry struct {
	ID         int64      `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	UserID     string     `json:"user_id"`
	Input      string     `json:"natural_language_input"`
	Command    string     `json:"final_command"`
	Confidence *int       `json:"confidence"`
	RiskLevel  string     `json:"risk_level"`
	EnvName    string     `json:"environment_name"`
	Cluster    string     `json:"cluster"`
	Namespace  *string    `json:"namespace"`
	ExitCode   *int       `json:"exit_code"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	DurationMS *int64     `json:"duration_ms"`
	UserAction UserAction `json:"user_action"`
	SessionID  string     `json:"session_id"`
}

// Filter bounds a query. Zero times mean unbounded; Limit defaults to
// MaxQueryLimit; results come back most recent first.
type Filter struct {
	Since       time.Time
	Until       time.Time
	Environment string
	Limit       int
	Offset      int
}

// MaxQueryLimit caps a single query's result set.
const MaxQueryLimit = 200

// Store wraps the audit database.
type Store struct {
	db     *sql.DB
	dbType DBType
	logger *slog.Logger
}

// Open connects to the configured backend, creates the schema, and runs
// the retention sweep before accepting writes.
func Open(cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dbType := DBType(cfg.DBType)
	if dbType == "" {
		dbType = DBTypeSQLite
	}

	var db *sql.DB
	var err error
	switch dbType {
	case DBTypeSQLite:
		db, err = openSQLite(cfg.DBPath)
	case DBTypePostgres:
		db, err = openPostgres(cfg)
	case DBTypeMariaDB, DBTypeMySQL:
		db, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	s := &Store{db: db, dbType: dbType, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = config.DefaultRetentionDays
	}
	if deleted, err := s.Sweep(retention); err != nil {
		logger.Warn("audit retention sweep failed", "error", err)
	} else if deleted > 0 {
		logger.Info("audit retention sweep", "deleted", deleted, "horizon_days", retention)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = config.DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return sql.Open("sqlite", path)
}

func openPostgres(cfg config.StorageConfig) (*sql.DB, error) {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, sslMode)
	return sql.Open("postgres", dsn)
}

func openMySQL(cfg config.StorageConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	return sql.Open("mysql", dsn)
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createSchema() error {
	var schema string
	switch s.dbType {
	case DBTypePostgres:
		schema = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			natural_language_input TEXT NOT NULL DEFAULT '',
			final_command TEXT NOT NULL,
			confidence INTEGER,
			risk_level VARCHAR(20) NOT NULL,
			environment_name VARCHAR(255) NOT NULL,
			cluster VARCHAR(255) NOT NULL DEFAULT '',
			namespace VARCHAR(255),
			exit_code INTEGER,
			stdout TEXT NOT NULL DEFAULT '',
			stderr TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT,
			user_action VARCHAR(20) NOT NULL,
			session_id VARCHAR(255) NOT NULL DEFAULT ''
		);`
	case DBTypeMariaDB, DBTypeMySQL:
		schema = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			user_id VARCHAR(255) NOT NULL DEFAULT '',
			natural_language_input TEXT NOT NULL,
			final_command TEXT NOT NULL,
			confidence INTEGER,
			risk_level VARCHAR(20) NOT NULL,
			environment_name VARCHAR(255) NOT NULL,
			cluster VARCHAR(255) NOT NULL DEFAULT '',
			namespace VARCHAR(255),
			exit_code INTEGER,
			stdout TEXT,
			stderr TEXT,
			duration_ms BIGINT,
			user_action VARCHAR(20) NOT NULL,
			session_id VARCHAR(255) NOT NULL DEFAULT ''
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	default:
		schema = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			user_id TEXT NOT NULL DEFAULT '',
			natural_language_input TEXT NOT NULL DEFAULT '',
			final_command TEXT NOT NULL,
			confidence INTEGER,
			risk_level TEXT NOT NULL,
			environment_name TEXT NOT NULL,
			cluster TEXT NOT NULL DEFAULT '',
			namespace TEXT,
			exit_code INTEGER,
			stdout TEXT NOT NULL DEFAULT '',
			stderr TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT,
			user_action TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT ''
		);`
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create audit_entries table: %w", err)
	}

	for _, q := range []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp DESC);",
		"CREATE INDEX IF NOT EXISTS idx_audit_environment ON audit_entries(environment_name);",
	} {
		if s.dbType == DBTypeMariaDB || s.dbType == DBTypeMySQL {
			q = strings.Replace(q, "IF NOT EXISTS ", "", 1)
		}
		s.db.Exec(q) // duplicate-index errors are harmless
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (s *Store) rebind(query string) string {
	if s.dbType != DBTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record appends one entry. Callers treat a failure as a local warning,
// never as a reason to block the command path.
func (s *Store) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.UserAction == ActionCancelled && e.ExitCode != nil {
		return fmt.Errorf("cancelled entry must not carry an exit code")
	}

	query := s.rebind(`INSERT INTO audit_entries (
		timestamp, user_id, natural_language_input, final_command,
		confidence, risk_level, environment_name, cluster, namespace,
		exit_code, stdout, stderr, duration_ms, user_action, session_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.Exec(query,
		e.Timestamp, e.UserID, e.Input, e.Command,
		e.Confidence, e.RiskLevel, e.EnvName, e.Cluster, e.Namespace,
		e.ExitCode, e.Stdout, e.Stderr, e.DurationMS, string(e.UserAction), e.SessionID)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, most recent first.
func (s *Store) Query(f Filter) ([]Entry, error) {
	var conds []string
	var args []any
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until)
	}
	if f.Environment != "" {
		conds = append(conds, "environment_name = ?")
		args = append(args, f.Environment)
	}

	query := `SELECT id, timestamp, user_id, natural_language_input, final_command,
		confidence, risk_level, environment_name, cluster, namespace,
		exit_code, stdout, stderr, duration_ms, user_action, session_id
		FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	limit := f.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var confidence, exitCode sql.NullInt64
		var namespace sql.NullString
		var durationMS sql.NullInt64
		var action string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Input, &e.Command,
			&confidence, &e.RiskLevel, &e.EnvName, &e.Cluster, &namespace,
			&exitCode, &e.Stdout, &e.Stderr, &durationMS, &action, &e.SessionID); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if confidence.Valid {
			v := int(confidence.Int64)
			e.Confidence = &v
		}
		if namespace.Valid {
			e.Namespace = &namespace.String
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			e.ExitCode = &v
		}
		if durationMS.Valid {
			e.DurationMS = &durationMS.Int64
		}
		e.UserAction = UserAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExportJSON writes matching entries to w as a JSON array.
func (s *Store) ExportJSON(w io.Writer, f Filter) error {
	entries, err := s.Query(f)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// Sweep deletes entries older than the horizon and reports how many went.
func (s *Store) Sweep(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.Exec(s.rebind("DELETE FROM audit_entries WHERE timestamp < ?"), cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
