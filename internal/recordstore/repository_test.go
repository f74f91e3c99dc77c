package recordstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
	"github.com/nerrad567/m307-core/internal/infrastructure/config"
	"github.com/nerrad567/m307-core/internal/infrastructure/database"
	"github.com/nerrad567/m307-core/migrations"
)

// Compile-time check that the repository can back the bridge.
var _ m307.RecordStore = (*SQLiteRepository)(nil)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "backups.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// testRecords returns images of the given indices with a recognisable
// first payload byte.
func testRecords(t *testing.T, indices ...int) []m307.Record {
	t.Helper()
	out := make([]m307.Record, 0, len(indices))
	for _, idx := range indices {
		rec, err := m307.NewRecord(idx)
		if err != nil {
			t.Fatalf("NewRecord(%d) error = %v", idx, err)
		}
		rec[m307.CommandSize] = byte(0xA0 + idx)
		rec[m307.PacketSize-1] = 0x5A
		out = append(out, rec)
	}
	return out
}

func TestSaveBackupAndGet(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	records := testRecords(t, 0, 1, 2, 3, 4, 5)

	id, err := repo.SaveBackup(ctx, "cold-room", records)
	if err != nil {
		t.Fatalf("SaveBackup() error = %v", err)
	}
	if id == "" {
		t.Fatal("SaveBackup() returned empty id")
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DeviceID != "cold-room" || got.Label != "" {
		t.Errorf("backup = %+v", got)
	}
	if time.Since(got.CreatedAt) > time.Minute || got.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want now in UTC", got.CreatedAt)
	}
	if len(got.Records) != m307.RecordCount {
		t.Fatalf("records = %d, want %d", len(got.Records), m307.RecordCount)
	}
	for i, rec := range got.Records {
		if rec != records[i] {
			t.Errorf("record %d = % x, want % x", i, rec[:], records[i][:])
		}
	}
}

func TestSaveKeepsCallerFields(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	b := &Backup{
		ID:        "before-firmware-update",
		DeviceID:  "cold-room",
		Label:     "before firmware update",
		CreatedAt: at,
		Records:   testRecords(t, 4, 0),
	}
	if err := repo.Save(ctx, b); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get(ctx, "before-firmware-update")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Label != "before firmware update" || !got.CreatedAt.Equal(at) {
		t.Errorf("backup = %+v", got)
	}
	if len(got.Records) != 2 || got.Records[0].Index() != 0 || got.Records[1].Index() != 4 {
		t.Errorf("records not ordered by index: %v", got.Records)
	}
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	var badIndex m307.Record
	badIndex[m307.CommandSize-1] = 9

	tests := []struct {
		name   string
		backup Backup
	}{
		{"no device", Backup{Records: testRecords(t, 0)}},
		{"no records", Backup{DeviceID: "cold-room"}},
		{"duplicate index", Backup{DeviceID: "cold-room", Records: testRecords(t, 2, 2)}},
		{"index out of range", Backup{DeviceID: "cold-room", Records: []m307.Record{badIndex}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.backup
			err := repo.Save(ctx, &b)
			if !errors.Is(err, ErrInvalidBackup) {
				t.Errorf("Save() error = %v, want ErrInvalidBackup", err)
			}
		})
	}

	list, err := repo.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("invalid backups were stored: %v", list)
	}
}

func TestListAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	saves := []Backup{
		{ID: "a", DeviceID: "cold-room", CreatedAt: base, Records: testRecords(t, 0, 1)},
		{ID: "b", DeviceID: "cold-room", CreatedAt: base.Add(time.Hour), Records: testRecords(t, 0, 1, 2)},
		{ID: "c", DeviceID: "freezer", CreatedAt: base.Add(30 * time.Minute), Records: testRecords(t, 5)},
	}
	for i := range saves {
		if err := repo.Save(ctx, &saves[i]); err != nil {
			t.Fatalf("Save(%s) error = %v", saves[i].ID, err)
		}
	}

	tests := []struct {
		device  string
		wantIDs []string
		counts  []int
	}{
		{"cold-room", []string{"b", "a"}, []int{3, 2}},
		{"freezer", []string{"c"}, []int{1}},
		{"", []string{"b", "c", "a"}, []int{3, 1, 2}},
		{"unknown", nil, nil},
	}
	for _, tt := range tests {
		t.Run("device="+tt.device, func(t *testing.T) {
			list, err := repo.List(ctx, tt.device)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(list) != len(tt.wantIDs) {
				t.Fatalf("List() = %v, want ids %v", list, tt.wantIDs)
			}
			for i, s := range list {
				if s.ID != tt.wantIDs[i] || s.RecordCount != tt.counts[i] {
					t.Errorf("List()[%d] = %s (%d records), want %s (%d)", i, s.ID, s.RecordCount, tt.wantIDs[i], tt.counts[i])
				}
			}
		})
	}

	latest, err := repo.Latest(ctx, "cold-room")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID != "b" || len(latest.Records) != 3 {
		t.Errorf("Latest() = %s with %d records, want b with 3", latest.ID, len(latest.Records))
	}
	if _, err := repo.Latest(ctx, "unknown"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("Latest(unknown) error = %v, want ErrBackupNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	id, err := repo.SaveBackup(ctx, "cold-room", testRecords(t, 0, 1))
	if err != nil {
		t.Fatalf("SaveBackup() error = %v", err)
	}
	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, id); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrBackupNotFound", err)
	}
	if err := repo.Delete(ctx, id); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("second Delete() error = %v, want ErrBackupNotFound", err)
	}

	var items int
	if err := repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM record_backup_items").Scan(&items); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if items != 0 {
		t.Errorf("record_backup_items rows = %d after delete, want 0", items)
	}
}

func TestGetNotFound(t *testing.T) {
	repo := setupRepo(t)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("Get() error = %v, want ErrBackupNotFound", err)
	}
}
