package rockbind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aalhour/rockbind/internal/engine"
)

func TestBackupCreateRestoreThroughRegistry(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	for i := 0; i < 10; i++ {
		key := fmt.Appendf(nil, "k%d", i)
		if err := r.Put(db, WriteOptions{}, key, fmt.Appendf(nil, "v%d", i)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	be, err := r.OpenBackupEngine(t.TempDir(), DefaultBackupOptions())
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	defer r.CloseBackupEngine(be)

	info, err := r.CreateBackup(be, db)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if info.ID != 1 || info.NumEntries != 10 {
		t.Fatalf("backup info = %+v", info)
	}
	if err := r.VerifyBackup(be, info.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	infos, err := r.ListBackups(be)
	if err != nil || len(infos) != 1 {
		t.Fatalf("list = %v, %v, want one backup", infos, err)
	}

	// Mutate the source, then restore: the restored database is a separate
	// resource at the backup's state.
	if err := r.Delete(db, WriteOptions{}, []byte("k3")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	restored, err := r.RestoreBackup(be, info.ID, DefaultOptions())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	defer r.CloseDB(restored)
	if restored == db {
		t.Fatal("restore returned the source token")
	}

	got, err := r.Get(restored, ReadOptions{}, []byte("k3"))
	if err != nil || string(got) != "v3" {
		t.Fatalf("restored get k3 = %q, %v", got, err)
	}
	if _, err := r.Get(db, ReadOptions{}, []byte("k3")); !errors.Is(err, engine.ErrKeyNotFound) {
		t.Fatalf("source get k3: %v, want ErrKeyNotFound", err)
	}
}

func TestBackupDeleteThroughRegistry(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)
	if err := r.Put(db, WriteOptions{}, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	be, err := r.OpenBackupEngine(t.TempDir(), BackupOptions{Codec: engine.SnappyCodec})
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	defer r.CloseBackupEngine(be)

	info, err := r.CreateBackup(be, db)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if err := r.DeleteBackup(be, info.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.VerifyBackup(be, info.ID); !errors.Is(err, engine.ErrBackupNotFound) {
		t.Fatalf("verify deleted: %v, want ErrBackupNotFound", err)
	}
}

func TestBackupEngineClose(t *testing.T) {
	r, db := openTestDB(t)
	defer r.CloseDB(db)

	be, err := r.OpenBackupEngine(t.TempDir(), DefaultBackupOptions())
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	if err := r.CloseBackupEngine(be); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.CreateBackup(be, db); !errors.Is(err, ErrAlreadyClosing) {
		t.Fatalf("create after close: %v, want ErrAlreadyClosing", err)
	}
	if _, err := r.ListBackups(be); !errors.Is(err, ErrAlreadyClosing) {
		t.Fatalf("list after close: %v, want ErrAlreadyClosing", err)
	}
}

func TestBackupOfClosedDBThroughRegistry(t *testing.T) {
	r, db := openTestDB(t)
	be, err := r.OpenBackupEngine(t.TempDir(), DefaultBackupOptions())
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	defer r.CloseBackupEngine(be)

	if err := r.CloseDB(db); err != nil {
		t.Fatalf("close db: %v", err)
	}
	if _, err := r.CreateBackup(be, db); !errors.Is(err, ErrAlreadyClosing) {
		t.Fatalf("backup of closed db: %v, want ErrAlreadyClosing", err)
	}
}
