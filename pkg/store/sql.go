package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/shipment"
)

// Dialect selects placeholder style and transaction isolation.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	txOpts  *sql.TxOptions
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	s := &SQLStore{db: db, dialect: dialect}
	if dialect == DialectPostgres {
		s.txOpts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return s
}

// OpenSQLite opens (creating if needed) a SQLite database and its schema.
// path may be ":memory:".
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	s := NewSQLStore(db, DialectSQLite)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := NewSQLStore(db, DialectPostgres)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS shipments (
	id BIGINT PRIMARY KEY,
	visibility TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	route_commitment TEXT NOT NULL DEFAULT '',
	supplier TEXT NOT NULL,
	transporter TEXT NOT NULL,
	retailer TEXT NOT NULL,
	policy TEXT NOT NULL,
	amount BIGINT NOT NULL,
	status TEXT NOT NULL,
	payment_id BIGINT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS shipments_supplier_idx ON shipments (supplier)`,
	`CREATE INDEX IF NOT EXISTS shipments_transporter_idx ON shipments (transporter)`,
	`CREATE INDEX IF NOT EXISTS shipments_retailer_idx ON shipments (retailer)`,
	`CREATE TABLE IF NOT EXISTS payments (
	id BIGINT PRIMARY KEY,
	shipment_id BIGINT NOT NULL UNIQUE,
	amount BIGINT NOT NULL,
	policy TEXT NOT NULL,
	status TEXT NOT NULL,
	payer TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS events (
	seq BIGINT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	shipment_id BIGINT NOT NULL,
	payment_id BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS sequences (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL
)`,
}

func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Shipment(ctx context.Context, id uint64) (shipment.Shipment, error) {
	return s.q(s.db).Shipment(ctx, id)
}

func (s *SQLStore) Payment(ctx context.Context, id uint64) (shipment.Payment, error) {
	return s.q(s.db).Payment(ctx, id)
}

func (s *SQLStore) ListShipments(ctx context.Context, f Filter) ([]shipment.Shipment, error) {
	return s.q(s.db).ListShipments(ctx, f)
}

func (s *SQLStore) EventsSince(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	return s.q(s.db).EventsSince(ctx, afterSeq, limit)
}

func (s *SQLStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, s.txOpts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(s.q(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) q(conn execer) *sqlTx {
	return &sqlTx{conn: conn, dialect: s.dialect}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTx struct {
	conn    execer
	dialect Dialect
}

// rebind rewrites ? placeholders to $N for Postgres.
func (t *sqlTx) rebind(query string) string {
	if t.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const shipmentColumns = `id, visibility, origin, destination, route_commitment, supplier, transporter, retailer, policy, amount, status, payment_id, created_at, updated_at`

const paymentColumns = `id, shipment_id, amount, policy, status, payer, created_at, updated_at`

const eventColumns = `seq, id, type, shipment_id, payment_id, status, occurred_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanShipment(row scanner) (shipment.Shipment, error) {
	var (
		sh                   shipment.Shipment
		digest               string
		createdAt, updatedAt string
	)
	err := row.Scan(&sh.ID, &sh.Visibility, &sh.Origin, &sh.Destination, &digest, &sh.Supplier, &sh.Transporter, &sh.Retailer, &sh.Policy, &sh.Amount, &sh.Status, &sh.PaymentID, &createdAt, &updatedAt)
	if err != nil {
		return shipment.Shipment{}, err
	}
	if sh.RouteCommitment, err = commitment.ParseDigest(digest); err != nil {
		return shipment.Shipment{}, fmt.Errorf("corrupt route commitment on shipment %d: %w", sh.ID, err)
	}
	sh.CreatedAt = parseTime(createdAt)
	sh.UpdatedAt = parseTime(updatedAt)
	return sh, nil
}

func scanPayment(row scanner) (shipment.Payment, error) {
	var (
		p                    shipment.Payment
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.ShipmentID, &p.Amount, &p.Policy, &p.Status, &p.Payer, &createdAt, &updatedAt); err != nil {
		return shipment.Payment{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (t *sqlTx) Shipment(ctx context.Context, id uint64) (shipment.Shipment, error) {
	row := t.conn.QueryRowContext(ctx, t.rebind(`SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`), id)
	sh, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shipment.Shipment{}, ErrNotFound
	}
	return sh, err
}

func (t *sqlTx) Payment(ctx context.Context, id uint64) (shipment.Payment, error) {
	row := t.conn.QueryRowContext(ctx, t.rebind(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`), id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shipment.Payment{}, ErrNotFound
	}
	return p, err
}

func (t *sqlTx) ListShipments(ctx context.Context, f Filter) ([]shipment.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE id > ?`
	args := []any{f.AfterID}
	if !f.Participant.IsZero() {
		p := string(shipment.NewAddress(string(f.Participant)))
		query += ` AND (supplier = ? OR transporter = ? OR retailer = ?)`
		args = append(args, p, p, p)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, f.limit())

	rows, err := t.conn.QueryContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]shipment.Shipment, 0)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *sqlTx) EventsSince(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE seq > ? ORDER BY seq ASC LIMIT ?`
	rows, err := t.conn.QueryContext(ctx, t.rebind(query), afterSeq, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]events.Event, 0)
	for rows.Next() {
		var (
			e          events.Event
			occurredAt string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.ShipmentID, &e.PaymentID, &e.Status, &occurredAt); err != nil {
			return nil, err
		}
		e.OccurredAt = parseTime(occurredAt)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *sqlTx) NextID(ctx context.Context, seq Sequence) (uint64, error) {
	query := `
		INSERT INTO sequences (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
		RETURNING value
	`
	var v uint64
	if err := t.conn.QueryRowContext(ctx, t.rebind(query), string(seq)).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", seq, err)
	}
	return v, nil
}

func (t *sqlTx) PutShipment(ctx context.Context, sh shipment.Shipment) error {
	query := `
		INSERT INTO shipments (` + shipmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`
	_, err := t.conn.ExecContext(ctx, t.rebind(query),
		sh.ID, string(sh.Visibility), sh.Origin, sh.Destination, commitmentText(sh.RouteCommitment),
		string(shipment.NewAddress(string(sh.Supplier))),
		string(shipment.NewAddress(string(sh.Transporter))),
		string(shipment.NewAddress(string(sh.Retailer))),
		string(sh.Policy), sh.Amount, string(sh.Status), sh.PaymentID,
		formatTime(sh.CreatedAt), formatTime(sh.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to write shipment %d: %w", sh.ID, err)
	}
	return nil
}

func (t *sqlTx) PutPayment(ctx context.Context, p shipment.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, payer = excluded.payer, updated_at = excluded.updated_at
	`
	_, err := t.conn.ExecContext(ctx, t.rebind(query),
		p.ID, p.ShipmentID, p.Amount, string(p.Policy), string(p.Status),
		string(shipment.NewAddress(string(p.Payer))),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to write payment %d: %w", p.ID, err)
	}
	return nil
}

func (t *sqlTx) AppendEvent(ctx context.Context, e *events.Event) error {
	seq, err := t.NextID(ctx, SeqEvent)
	if err != nil {
		return err
	}
	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = t.conn.ExecContext(ctx, t.rebind(query),
		seq, e.ID, string(e.Type), e.ShipmentID, e.PaymentID, e.Status, formatTime(e.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	e.Seq = seq
	return nil
}

func commitmentText(d commitment.Digest) string {
	if d.IsZero() {
		return ""
	}
	return d.Hex()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
