package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/verity-sec/verity/pkg/domain"
	"github.com/verity-sec/verity/pkg/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	tenant_id        TEXT    NOT NULL,
	sequence_number  INTEGER NOT NULL,
	id               TEXT    NOT NULL UNIQUE,
	event_type       TEXT    NOT NULL,
	event_name       TEXT    NOT NULL,
	resource_type    TEXT    NOT NULL DEFAULT '',
	resource_id      TEXT    NOT NULL DEFAULT '',
	actor_user_id    TEXT    NOT NULL DEFAULT '',
	ip_address       TEXT    NOT NULL DEFAULT '',
	user_agent       TEXT    NOT NULL DEFAULT '',
	details          TEXT,
	compliance_tags  TEXT,
	created_at       INTEGER NOT NULL,
	prev_hash        TEXT    NOT NULL,
	entry_hash       TEXT    NOT NULL,
	original_hash    TEXT    NOT NULL DEFAULT '',
	redacted         INTEGER NOT NULL DEFAULT 0,
	retention_until  INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, sequence_number)
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_created
	ON audit_entries (tenant_id, created_at, sequence_number);
CREATE INDEX IF NOT EXISTS idx_audit_entries_retention
	ON audit_entries (redacted, retention_until);

CREATE TABLE IF NOT EXISTS chain_state (
	tenant_id      TEXT    PRIMARY KEY,
	last_sequence  INTEGER NOT NULL,
	last_hash      TEXT    NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verify_checkpoints (
	tenant_id        TEXT    PRIMARY KEY,
	sequence_number  INTEGER NOT NULL,
	link_hash        TEXT    NOT NULL,
	updated_at       INTEGER NOT NULL
);
`

// SQLStore persists audit entries in SQLite. A single writer
// connection keeps the CAS append serialized at the database level as
// well; reads run at read-committed, which suffices because committed
// entries are immutable.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQL opens (and bootstraps) a SQLite audit store. Pass ":memory:"
// for an ephemeral store in tests.
func OpenSQL(path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ChainState(ctx context.Context, tenantID domain.TenantID) (domain.ChainState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_sequence, last_hash FROM chain_state WHERE tenant_id = ?`, string(tenantID))

	var state domain.ChainState
	state.TenantID = tenantID
	err := row.Scan(&state.LastSequence, &state.LastHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.GenesisState(tenantID), nil
	}
	if err != nil {
		return domain.ChainState{}, fmt.Errorf("load chain state: %w", err)
	}
	return state, nil
}

func (s *SQLStore) AppendEntry(ctx context.Context, entry *domain.Entry, prev domain.ChainState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	nowNano := s.now().UTC().UnixNano()

	// Advance the chain head with a compare-and-swap. Zero rows
	// affected means another appender won the slot.
	var res sql.Result
	if prev.LastSequence == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO chain_state (tenant_id, last_sequence, last_hash, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (tenant_id) DO NOTHING`,
			string(entry.TenantID), entry.SequenceNumber, entry.EntryHash, nowNano)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE chain_state SET last_sequence = ?, last_hash = ?, updated_at = ?
			 WHERE tenant_id = ? AND last_sequence = ? AND last_hash = ?`,
			entry.SequenceNumber, entry.EntryHash, nowNano,
			string(entry.TenantID), prev.LastSequence, prev.LastHash)
	}
	if err != nil {
		return fmt.Errorf("advance chain state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance chain state: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("append tenant %s seq %d: %w",
			entry.TenantID, entry.SequenceNumber, domain.ErrConcurrentWriteConflict)
	}

	details, err := ledger.EncodeDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	tags, err := encodeTags(entry.ComplianceTags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_entries (
			tenant_id, sequence_number, id, event_type, event_name,
			resource_type, resource_id, actor_user_id, ip_address, user_agent,
			details, compliance_tags, created_at, prev_hash, entry_hash,
			original_hash, redacted, retention_until
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entry.TenantID), entry.SequenceNumber, string(entry.ID),
		string(entry.EventType), entry.EventName,
		entry.ResourceType, entry.ResourceID, entry.ActorUserID,
		entry.IPAddress, entry.UserAgent,
		nullableText(details), nullableText(tags),
		entry.CreatedAt.UTC().UnixNano(), entry.PrevHash, entry.EntryHash,
		entry.OriginalHash, boolToInt(entry.Redacted),
		entry.RetentionUntil.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

const entryColumns = `tenant_id, sequence_number, id, event_type, event_name,
	resource_type, resource_id, actor_user_id, ip_address, user_agent,
	details, compliance_tags, created_at, prev_hash, entry_hash,
	original_hash, redacted, retention_until`

func (s *SQLStore) Entry(ctx context.Context, tenantID domain.TenantID, seq uint64) (*domain.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries
		 WHERE tenant_id = ? AND sequence_number = ?`, string(tenantID), seq)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s sequence %d: %w", tenantID, seq, domain.ErrNotFound)
	}
	return entry, err
}

func (s *SQLStore) ListRange(ctx context.Context, tenantID domain.TenantID, from, to uint64, limit int) ([]domain.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries
		 WHERE tenant_id = ? AND sequence_number >= ? AND sequence_number <= ?
		 ORDER BY sequence_number ASC LIMIT ?`,
		string(tenantID), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("list range: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *SQLStore) List(ctx context.Context, tenantID domain.TenantID, f domain.Filter, after *domain.Cursor, limit int) ([]domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries WHERE tenant_id = ?`
	args := []any{string(tenantID)}

	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(f.EventType))
	}
	if f.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		query += ` AND resource_id = ?`
		args = append(args, f.ResourceID)
	}
	if !f.Start.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Start.UTC().UnixNano())
	}
	if !f.End.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.End.UTC().UnixNano())
	}
	if f.ComplianceTag != "" {
		// Tags are a JSON string array; membership is a substring match
		// on the tag's quoted JSON token, so LIMIT counts only matching
		// rows.
		token, err := json.Marshal(f.ComplianceTag)
		if err != nil {
			return nil, fmt.Errorf("encode tag filter: %w", err)
		}
		query += ` AND compliance_tags IS NOT NULL AND instr(compliance_tags, ?) > 0`
		args = append(args, string(token))
	}
	if after != nil {
		query += ` AND (created_at > ? OR (created_at = ? AND sequence_number > ?))`
		args = append(args, after.CreatedAtUnixNano, after.CreatedAtUnixNano, after.Sequence)
	}
	query += ` ORDER BY created_at ASC, sequence_number ASC`
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (s *SQLStore) UpdateRedaction(ctx context.Context, entry *domain.Entry) error {
	details, err := ledger.EncodeDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_entries SET
			actor_user_id = ?, ip_address = ?, user_agent = ?, details = ?,
			entry_hash = ?, original_hash = ?, redacted = 1
		 WHERE tenant_id = ? AND sequence_number = ? AND redacted = 0`,
		entry.ActorUserID, entry.IPAddress, entry.UserAgent, nullableText(details),
		entry.EntryHash, entry.OriginalHash,
		string(entry.TenantID), entry.SequenceNumber)
	if err != nil {
		return fmt.Errorf("redact entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("redact entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("redact tenant %s sequence %d: %w",
			entry.TenantID, entry.SequenceNumber, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ExpiredEntries(ctx context.Context, now time.Time, after *PurgeKey, limit int) ([]domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_entries
		 WHERE redacted = 0 AND retention_until > 0 AND retention_until < ?`
	args := []any{now.UTC().UnixNano()}
	if after != nil {
		query += ` AND (tenant_id > ? OR (tenant_id = ? AND sequence_number > ?))`
		args = append(args, string(after.TenantID), string(after.TenantID), after.Sequence)
	}
	query += ` ORDER BY tenant_id ASC, sequence_number ASC LIMIT ?`
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *SQLStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verify_checkpoints (tenant_id, sequence_number, link_hash, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			sequence_number = excluded.sequence_number,
			link_hash = excluded.link_hash,
			updated_at = excluded.updated_at`,
		string(cp.TenantID), cp.Sequence, cp.LinkHash, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadCheckpoint(ctx context.Context, tenantID domain.TenantID) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sequence_number, link_hash, updated_at FROM verify_checkpoints
		 WHERE tenant_id = ?`, string(tenantID))

	cp := Checkpoint{TenantID: tenantID}
	var updated int64
	err := row.Scan(&cp.Sequence, &cp.LinkHash, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.UpdatedAt = time.Unix(0, updated).UTC()
	return &cp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.Entry, error) {
	var (
		e        domain.Entry
		tenant   string
		id       string
		typ      string
		details  sql.NullString
		tags     sql.NullString
		created  int64
		redacted int64
		until    int64
	)
	err := row.Scan(&tenant, &e.SequenceNumber, &id, &typ, &e.EventName,
		&e.ResourceType, &e.ResourceID, &e.ActorUserID, &e.IPAddress, &e.UserAgent,
		&details, &tags, &created, &e.PrevHash, &e.EntryHash,
		&e.OriginalHash, &redacted, &until)
	if err != nil {
		return nil, err
	}
	e.TenantID = domain.TenantID(tenant)
	e.ID = domain.EntryID(id)
	e.EventType = domain.EventType(typ)
	e.CreatedAt = time.Unix(0, created).UTC()
	e.Redacted = redacted != 0
	if until > 0 {
		e.RetentionUntil = time.Unix(0, until).UTC()
	}
	if details.Valid && details.String != "" {
		e.Details, err = ledger.DecodeDetails([]byte(details.String))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", id, err)
		}
	}
	if tags.Valid && tags.String != "" {
		e.ComplianceTags, err = decodeTags([]byte(tags.String))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", id, err)
		}
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var out []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func encodeTags(tags []string) ([]byte, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	return json.Marshal(tags)
}

func decodeTags(data []byte) ([]string, error) {
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return out, nil
}

func nullableText(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
