package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
)

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Backup is one stored snapshot of a unit's user records.
type Backup struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Label     string        `json:"label,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Records   []m307.Record `json:"-"`
}

// Summary describes a backup without its record images.
type Summary struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	RecordCount int       `json:"record_count"`
}

// Repository defines the persistence operations for record backups.
type Repository interface {
	Save(ctx context.Context, b *Backup) error
	SaveBackup(ctx context.Context, deviceID string, records []m307.Record) (string, error)
	Get(ctx context.Context, id string) (*Backup, error)
	Latest(ctx context.Context, deviceID string) (*Backup, error)
	List(ctx context.Context, deviceID string) ([]Summary, error)
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed backup repository.
// The schema must already be migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// SaveBackup stores records as a new unlabeled backup for deviceID and
// returns its ID. It satisfies the bridge's record store dependency.
func (r *SQLiteRepository) SaveBackup(ctx context.Context, deviceID string, records []m307.Record) (string, error) {
	b := &Backup{DeviceID: deviceID, Records: records}
	if err := r.Save(ctx, b); err != nil {
		return "", err
	}
	return b.ID, nil
}

// Save inserts b and its record images in one transaction. An empty ID is
// replaced with a new UUID and an unset CreatedAt with the current time;
// both are written back to b.
func (r *SQLiteRepository) Save(ctx context.Context, b *Backup) error {
	if err := validate(b); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now()
	}
	b.CreatedAt = b.CreatedAt.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	const insertBackup = `INSERT INTO record_backups (id, device_id, label, created_at)
		VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertBackup,
		b.ID, b.DeviceID, b.Label, b.CreatedAt.Format(timeFormat)); err != nil {
		return fmt.Errorf("inserting backup %s: %w", b.ID, err)
	}

	const insertItem = `INSERT INTO record_backup_items (backup_id, record_index, image)
		VALUES (?, ?, ?)`
	for _, rec := range b.Records {
		if _, err := tx.ExecContext(ctx, insertItem, b.ID, rec.Index(), rec[:]); err != nil {
			return fmt.Errorf("inserting record %d of backup %s: %w", rec.Index(), b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing backup %s: %w", b.ID, err)
	}
	return nil
}

func validate(b *Backup) error {
	if b.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidBackup)
	}
	if len(b.Records) == 0 {
		return fmt.Errorf("%w: no records", ErrInvalidBackup)
	}
	seen := make(map[int]bool, len(b.Records))
	for _, rec := range b.Records {
		idx := rec.Index()
		if idx < 0 || idx > m307.MaxRecordIndex {
			return fmt.Errorf("%w: record index %d", ErrInvalidBackup, idx)
		}
		if seen[idx] {
			return fmt.Errorf("%w: record %d appears twice", ErrInvalidBackup, idx)
		}
		seen[idx] = true
	}
	return nil
}

// Get returns a backup with its records ordered by index.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Backup, error) {
	const query = `SELECT id, device_id, label, created_at FROM record_backups WHERE id = ?`
	b, err := scanBackup(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadRecords(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Latest returns the most recent backup of deviceID.
func (r *SQLiteRepository) Latest(ctx context.Context, deviceID string) (*Backup, error) {
	const query = `SELECT id, device_id, label, created_at FROM record_backups
		WHERE device_id = ? ORDER BY created_at DESC LIMIT 1`
	b, err := scanBackup(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		return nil, err
	}
	if err := r.loadRecords(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// List returns backup summaries newest first. An empty deviceID lists the
// backups of every device.
func (r *SQLiteRepository) List(ctx context.Context, deviceID string) ([]Summary, error) {
	query := `SELECT b.id, b.device_id, b.label, b.created_at, COUNT(i.record_index)
		FROM record_backups b
		LEFT JOIN record_backup_items i ON i.backup_id = b.id`
	var args []any
	if deviceID != "" {
		query += ` WHERE b.device_id = ?`
		args = append(args, deviceID)
	}
	query += ` GROUP BY b.id ORDER BY b.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying backups: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var created string
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.Label, &created, &s.RecordCount); err != nil {
			return nil, fmt.Errorf("scanning backup: %w", err)
		}
		if s.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
			return nil, fmt.Errorf("parsing created_at of backup %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backups: %w", err)
	}
	return out, nil
}

// Delete removes a backup and its record images.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM record_backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting backup %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting backup %s: %w", id, err)
	}
	if n == 0 {
		return ErrBackupNotFound
	}
	return nil
}

func scanBackup(row *sql.Row) (*Backup, error) {
	var b Backup
	var created string
	if err := row.Scan(&b.ID, &b.DeviceID, &b.Label, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("scanning backup: %w", err)
	}
	t, err := time.Parse(timeFormat, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at of backup %s: %w", b.ID, err)
	}
	b.CreatedAt = t
	return &b, nil
}

func (r *SQLiteRepository) loadRecords(ctx context.Context, b *Backup) error {
	const query = `SELECT record_index, image FROM record_backup_items
		WHERE backup_id = ? ORDER BY record_index`
	rows, err := r.db.QueryContext(ctx, query, b.ID)
	if err != nil {
		return fmt.Errorf("querying records of backup %s: %w", b.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var image []byte
		if err := rows.Scan(&idx, &image); err != nil {
			return fmt.Errorf("scanning record of backup %s: %w", b.ID, err)
		}
		if len(image) != m307.PacketSize {
			return fmt.Errorf("%w: record %d of backup %s is %d bytes", ErrInvalidBackup, idx, b.ID, len(image))
		}
		var rec m307.Record
		copy(rec[:], image)
		b.Records = append(b.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating records of backup %s: %w", b.ID, err)
	}
	return nil
}
