// Package instance implements C1: a live, reference-counted session to one
// MySQL server, with SQL-log scrubbing and the server-identity accessors
// the rest of the module relies on. It is the only package that imports
// database/sql and the go-sql-driver/mysql driver directly; everything
// above it talks to *Instance.
package instance

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/Showmax/go-fqdn"

	"github.com/mysql/innodbcluster-adminapi/go/console"
	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
)

// LogVerbosity controls how much SQL gets logged, per spec §4.1.
type LogVerbosity int

const (
	LogNone LogVerbosity = iota
	LogNonSelect
	LogAll
)

// Options describes how to open a session, and is reused verbatim by
// CleanConnect to reopen the same target after a dropped connection.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string

	// ConnectTimeout bounds the initial TCP+handshake. Default 10s per §5.
	ConnectTimeout time.Duration
	// ReadTimeout bounds each round trip. Callers performing GTID waits
	// (locks package) must set this above their GTID sync timeout, since
	// FTWRL itself never expires server-side.
	ReadTimeout time.Duration

	LogVerbosity LogVerbosity
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.Port == 0 {
		o.Port = 3306
	}
	return o
}

// Endpoint returns "host:port".
func (o Options) Endpoint() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

func (o Options) dsn() (string, error) {
	if o.User == "" {
		return "", dbaerr.New(dbaerr.CodeMissingAuth, "connection options carry no user")
	}
	params := []string{"parseTime=true"}
	if o.ReadTimeout > 0 {
		params = append(params, "readTimeout="+o.ReadTimeout.String())
	}
	if o.ConnectTimeout > 0 {
		params = append(params, "timeout="+o.ConnectTimeout.String())
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/?%s",
		o.User, o.Password, o.Host, o.Port, strings.Join(params, "&")), nil
}

// Owner is the minimal contract an Instance needs from whatever pool
// leased it, so this package never imports the pool package back.
type Owner interface {
	ReleaseInstance(i *Instance)
}

// Instance is a live session to one MySQL server.
type Instance struct {
	opts Options
	db   *sql.DB

	mu      sync.Mutex
	owner   Owner
	retains int32

	logger *console.Logger

	uuid       string
	serverID   uint32
	version    string
	reportHost string
}

var passwordLiteral = regexp.MustCompile(`(?i)(identified\s+by\s+)('(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*")`)

// Scrub replaces password literals in sql with **** for logging, per §4.1.
func Scrub(sql string) string {
	return passwordLiteral.ReplaceAllString(sql, "${1}'****'")
}

// Open opens a new session with the given options. Callers that want pool
// ownership semantics should go through pool.Adopt/pool.ConnectUnchecked
// instead of calling Open directly.
func Open(ctx context.Context, opts Options, logger *console.Logger) (*Instance, error) {
	opts = opts.withDefaults()
	dsn, err := opts.dsn()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, dbaerr.Wrap(dbaerr.CodeDriverError, "open failed", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyDriverError(err)
	}

	return FromDB(ctx, db, opts, logger)
}

// FromDB wraps an already-open *sql.DB as an Instance. Production code
// never needs this directly (Open covers it); it exists so tests can
// inject a github.com/DATA-DOG/go-sqlmock-backed *sql.DB the same way the
// example pack's own MySQL-facing packages do, instead of dialing a real
// server.
func FromDB(ctx context.Context, db *sql.DB, opts Options, logger *console.Logger) (*Instance, error) {
	opts = opts.withDefaults()
	inst := &Instance{opts: opts, db: db, retains: 1, logger: logger}
	if err := inst.loadIdentity(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return inst, nil
}

func (i *Instance) loadIdentity(ctx context.Context) error {
	row := i.db.QueryRowContext(ctx, "select @@server_uuid, @@server_id, @@version, @@report_host")
	var reportHost sql.NullString
	if err := row.Scan(&i.uuid, &i.serverID, &i.version, &reportHost); err != nil {
		return classifyDriverError(err)
	}
	i.reportHost = reportHost.String
	return nil
}

// CleanConnect reopens a session with the same Options after a connection
// drop; Instance never auto-reconnects on its own, per §4.1.
func (i *Instance) CleanConnect(ctx context.Context) (*Instance, error) {
	return Open(ctx, i.opts, i.logger)
}

// --- reference counting -----------------------------------------------

// SetOwner is called by the pool immediately after Open/Adopt to give this
// Instance somewhere to return to on Release.
func (i *Instance) SetOwner(o Owner) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.owner = o
}

// Retain increments the reference count; pair with Release.
func (i *Instance) Retain() *Instance {
	atomic.AddInt32(&i.retains, 1)
	return i
}

// Release decrements the reference count. At zero, the Instance returns
// to its owning pool (if any) or closes itself.
func (i *Instance) Release() {
	if atomic.AddInt32(&i.retains, -1) > 0 {
		return
	}
	i.mu.Lock()
	o := i.owner
	i.mu.Unlock()
	if o != nil {
		o.ReleaseInstance(i)
		return
	}
	i.Close()
}

// Steal detaches this Instance from its owning pool; retain/release
// semantics continue to apply, but reaching zero now always closes the
// session instead of returning it to the pool.
func (i *Instance) Steal() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.owner = nil
}

// Close closes the underlying connection unconditionally. Commands should
// use Release, not Close, unless they have Stolen the Instance.
func (i *Instance) Close() error {
	return i.db.Close()
}

// --- query/execute -------------------------------------------------------

// Row is one materialized result row, keyed by lower-cased column name.
type Row map[string]sql.RawBytes

// Query runs sql and returns every row, materialized (buffered=true
// semantics from §4.1; this module does not expose the lazy-cursor
// variant since every caller here needs the full result anyway).
func (i *Instance) Query(ctx context.Context, query string) ([]Row, error) {
	i.log(query)
	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyDriverError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyDriverError(err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]sql.RawBytes, len(cols))
		ptrs := make([]interface{}, len(cols))
		for idx := range vals {
			ptrs[idx] = &vals[idx]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyDriverError(err)
		}
		row := make(Row, len(cols))
		for idx, c := range cols {
			row[strings.ToLower(c)] = vals[idx]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyDriverError(err)
	}
	return out, nil
}

// Execute runs a non-query statement and returns rows affected.
func (i *Instance) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	i.log(query)
	res, err := i.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classifyDriverError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifyDriverError(err)
	}
	return n, nil
}

func (i *Instance) log(query string) {
	if i.logger == nil {
		return
	}
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	isSelectShow := strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "SHOW")
	// LogNonSelect means "everything except SELECT/SHOW"; LogAll logs
	// unconditionally. The verbosity gate lives here rather than in the
	// logger itself because only Instance knows whether a statement is a
	// read.
	switch i.opts.LogVerbosity {
	case LogAll:
		i.logger.Debug3("%s", Scrub(trimmed))
	case LogNonSelect:
		if !isSelectShow {
			i.logger.Debug3("%s", Scrub(trimmed))
		}
	}
}

// Scope is SESSION or GLOBAL, for sysvar access.
type Scope string

const (
	ScopeSession Scope = "SESSION"
	ScopeGlobal  Scope = "GLOBAL"
)

func (i *Instance) sysvar(ctx context.Context, scope Scope, name string) (string, error) {
	rows, err := i.Query(ctx, fmt.Sprintf("show %s variables like '%s'", scope, name))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", dbaerr.Newf(dbaerr.CodeInternal, "sysvar %s not found", name)
	}
	return string(rows[0]["value"]), nil
}

// QueryBool reads a sysvar as a boolean (ON/1 => true).
func (i *Instance) QueryBool(ctx context.Context, scope Scope, name string) (bool, error) {
	v, err := i.sysvar(ctx, scope, name)
	if err != nil {
		return false, err
	}
	v = strings.ToUpper(v)
	return v == "ON" || v == "1", nil
}

// QueryInt reads a sysvar as an integer.
func (i *Instance) QueryInt(ctx context.Context, scope Scope, name string) (int64, error) {
	v, err := i.sysvar(ctx, scope, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// QueryString reads a sysvar as a string.
func (i *Instance) QueryString(ctx context.Context, scope Scope, name string) (string, error) {
	return i.sysvar(ctx, scope, name)
}

// SetSysVar sets a sysvar at the given scope.
func (i *Instance) SetSysVar(ctx context.Context, scope Scope, name, value string) error {
	_, err := i.Execute(ctx, fmt.Sprintf("set %s %s = %s", scope, name, value))
	return err
}

// --- identity accessors --------------------------------------------------

func (i *Instance) GetUUID() string     { return i.uuid }
func (i *Instance) GetServerID() uint32 { return i.serverID }
func (i *Instance) GetVersion() string  { return i.version }

// GetCanonicalAddress always returns @@report_host:port, falling back to
// the local machine's resolved FQDN when report_host is unset - the same
// gap orchestrator's own discovery path has to paper over when a server
// was never configured with report_host.
func (i *Instance) GetCanonicalAddress() string {
	host := i.reportHost
	if host == "" {
		host = i.opts.Host
	}
	if host == "" {
		if resolved, err := fqdn.FqdnHostname(); err == nil && resolved != "" {
			host = resolved
		}
	}
	return CanonicalizeHostPort(host, i.opts.Port)
}

// CanonicalizeHostPort brackets IPv6 literals per the §8 boundary
// behavior and leaves hostnames/IPv4 untouched.
func CanonicalizeHostPort(host string, port int) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetConnectionOptions returns the Options this Instance was opened with.
func (i *Instance) GetConnectionOptions() Options { return i.opts }

// Endpoint is a convenience over GetConnectionOptions().Endpoint().
func (i *Instance) Endpoint() string { return i.opts.Endpoint() }
