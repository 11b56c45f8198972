package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Checkpoint is one saved graph state for a thread, content-addressed by its
// (ThreadID, Namespace, ID) triple.
type Checkpoint struct {
	ThreadID           string
	Namespace          string
	ID                 string
	ParentID           string
	State              []byte // serialized state.State
	StateType          string // "json" today; reserved for future codecs
	Metadata           []byte
	MetadataType       string
	CreatedAt          time.Time
}

// PendingWrite is one channel write recorded against a checkpoint before the
// checkpoint itself is committed, used to recover in-flight node output
// after a crash mid-step.
type PendingWrite struct {
	TaskID  string
	Index   int
	Channel string
	Value   []byte
	Type    string
}

// Tuple bundles a checkpoint with the pending writes recorded against it.
type Tuple struct {
	Checkpoint    Checkpoint
	PendingWrites []PendingWrite
}

// Checkpointer persists and retrieves checkpoints over a Backend.
type Checkpointer struct {
	backend Backend
}

// New wraps backend with the checkpointer schema, creating or migrating it
// in place as needed.
func New(ctx context.Context, backend Backend) (*Checkpointer, error) {
	c := &Checkpointer{backend: backend}
	if err := c.migrate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Checkpointer) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS checkpoint_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			checkpoint BLOB NOT NULL,
			metadata BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'json',
			value BLOB NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.backend.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: migrate: %w", err)
		}
	}

	// checkpoint_type/metadata_type/type were added after the initial
	// schema shipped; add them in place with a 'json' default so existing
	// rows (and drivers that pre-date these columns) keep working.
	columnMigrations := []struct{ table, column, ddl string }{
		{"checkpoints", "checkpoint_type", "ALTER TABLE checkpoints ADD COLUMN checkpoint_type TEXT NOT NULL DEFAULT 'json'"},
		{"checkpoints", "metadata_type", "ALTER TABLE checkpoints ADD COLUMN metadata_type TEXT NOT NULL DEFAULT 'json'"},
	}
	for _, m := range columnMigrations {
		if _, err := c.backend.ExecContext(ctx, m.ddl); err != nil {
			if !isDuplicateColumn(err) {
				return fmt.Errorf("checkpoint: migrate %s.%s: %w", m.table, m.column, err)
			}
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// Put inserts or replaces a checkpoint.
func (c *Checkpointer) Put(ctx context.Context, cp Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.StateType == "" {
		cp.StateType = "json"
	}
	if cp.MetadataType == "" {
		cp.MetadataType = "json"
	}

	query := fmt.Sprintf(`
		INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, checkpoint_type, metadata, metadata_type, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id) DO UPDATE SET
			parent_checkpoint_id = excluded.parent_checkpoint_id,
			checkpoint = excluded.checkpoint,
			checkpoint_type = excluded.checkpoint_type,
			metadata = excluded.metadata,
			metadata_type = excluded.metadata_type,
			created_at = excluded.created_at`,
		c.ph(1), c.ph(2), c.ph(3), c.ph(4), c.ph(5), c.ph(6), c.ph(7), c.ph(8), c.ph(9),
	)
	_, err := c.backend.ExecContext(ctx, query,
		cp.ThreadID, cp.Namespace, cp.ID, nullIfEmpty(cp.ParentID), cp.State, cp.StateType, cp.Metadata, cp.MetadataType, cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("checkpoint: put: %w", err)
	}
	return nil
}

// PutWrites records pending channel writes against a checkpoint, used to
// recover a node's output if the process crashes before the next checkpoint
// commits.
func (c *Checkpointer) PutWrites(ctx context.Context, threadID, namespace, checkpointID string, writes []PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := c.backend.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: put writes: begin: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, value)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, idx) DO UPDATE SET
			channel = excluded.channel, type = excluded.type, value = excluded.value`,
		c.ph(1), c.ph(2), c.ph(3), c.ph(4), c.ph(5), c.ph(6), c.ph(7), c.ph(8),
	)
	for _, w := range writes {
		typ := w.Type
		if typ == "" {
			typ = "json"
		}
		if _, err := tx.ExecContext(ctx, query, threadID, namespace, checkpointID, w.TaskID, w.Index, w.Channel, typ, w.Value); err != nil {
			return fmt.Errorf("checkpoint: put writes: %w", err)
		}
	}
	return tx.Commit()
}

// GetTuple returns the checkpoint named by checkpointID, or the most recent
// checkpoint for the thread/namespace if checkpointID is empty, along with
// any pending writes recorded against it.
func (c *Checkpointer) GetTuple(ctx context.Context, threadID, namespace, checkpointID string) (*Tuple, error) {
	var row *sql.Row
	if checkpointID == "" {
		query := fmt.Sprintf(`
			SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, checkpoint_type, metadata, metadata_type, created_at
			FROM checkpoints WHERE thread_id = %s AND checkpoint_ns = %s
			ORDER BY created_at DESC LIMIT 1`, c.ph(1), c.ph(2))
		row = c.backend.QueryRowContext(ctx, query, threadID, namespace)
	} else {
		query := fmt.Sprintf(`
			SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, checkpoint_type, metadata, metadata_type, created_at
			FROM checkpoints WHERE thread_id = %s AND checkpoint_ns = %s AND checkpoint_id = %s`, c.ph(1), c.ph(2), c.ph(3))
		row = c.backend.QueryRowContext(ctx, query, threadID, namespace, checkpointID)
	}

	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: get tuple: %w", err)
	}

	writes, err := c.listWrites(ctx, cp.ThreadID, cp.Namespace, cp.ID)
	if err != nil {
		return nil, err
	}
	return &Tuple{Checkpoint: *cp, PendingWrites: writes}, nil
}

// List returns up to limit checkpoints for a thread/namespace, most recent
// first.
func (c *Checkpointer) List(ctx context.Context, threadID, namespace string, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, checkpoint_type, metadata, metadata_type, created_at
		FROM checkpoints WHERE thread_id = %s AND checkpoint_ns = %s
		ORDER BY created_at DESC LIMIT %s`, c.ph(1), c.ph(2), c.ph(3))
	rows, err := c.backend.QueryContext(ctx, query, threadID, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: list: scan: %w", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// DeleteThread removes every checkpoint and pending write for a thread,
// across all namespaces.
func (c *Checkpointer) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := c.backend.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: delete thread: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM checkpoint_writes WHERE thread_id = %s", c.ph(1)), threadID); err != nil {
		return fmt.Errorf("checkpoint: delete thread writes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM checkpoints WHERE thread_id = %s", c.ph(1)), threadID); err != nil {
		return fmt.Errorf("checkpoint: delete thread: %w", err)
	}
	return tx.Commit()
}

func (c *Checkpointer) listWrites(ctx context.Context, threadID, namespace, checkpointID string) ([]PendingWrite, error) {
	query := fmt.Sprintf(`
		SELECT task_id, idx, channel, type, value FROM checkpoint_writes
		WHERE thread_id = %s AND checkpoint_ns = %s AND checkpoint_id = %s
		ORDER BY task_id, idx`, c.ph(1), c.ph(2), c.ph(3))
	rows, err := c.backend.QueryContext(ctx, query, threadID, namespace, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list writes: %w", err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var w PendingWrite
		if err := rows.Scan(&w.TaskID, &w.Index, &w.Channel, &w.Type, &w.Value); err != nil {
			return nil, fmt.Errorf("checkpoint: list writes: scan: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (c *Checkpointer) ph(n int) string { return c.backend.Placeholder(n) }

// rowScanner covers both *sql.Row and *sql.Rows for a shared scan helper.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	return scan(row)
}

func scanCheckpointRows(rows *sql.Rows) (*Checkpoint, error) {
	return scan(rows)
}

func scan(s rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var parentID sql.NullString
	if err := s.Scan(&cp.ThreadID, &cp.Namespace, &cp.ID, &parentID, &cp.State, &cp.StateType, &cp.Metadata, &cp.MetadataType, &cp.CreatedAt); err != nil {
		return nil, err
	}
	cp.ParentID = parentID.String
	return &cp, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
