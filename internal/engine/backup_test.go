package engine

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestBackupRoundTrip(t *testing.T) {
	db := Open(DefaultOptions())
	defer db.Close()

	cf, err := db.CreateColumnFamily("logs")
	if err != nil {
		t.Fatalf("create cf: %v", err)
	}
	defer cf.Unref()
	for i := 0; i < 20; i++ {
		if err := db.Put(nil, fmt.Appendf(nil, "k%d", i), fmt.Appendf(nil, "v%d", i)); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := db.Put(cf, fmt.Appendf(nil, "l%d", i), []byte("log")); err != nil {
			t.Fatalf("put cf: %v", err)
		}
	}
	if err := db.Delete(nil, []byte("k7")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	be, err := OpenBackupEngine(t.TempDir(), ZstdCodec)
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	info, err := be.CreateBackup(db)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if info.ID != 1 || info.SessionID != db.SessionID() || info.Sequence != db.Sequence() {
		t.Fatalf("backup info = %+v", info)
	}
	if err := be.VerifyBackup(info.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}

	restored, err := be.RestoreBackup(info.ID, DefaultOptions())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	defer restored.Close()

	if restored.SessionID() == db.SessionID() {
		t.Fatal("restored db should have a fresh session identity")
	}
	if restored.Sequence() != db.Sequence() {
		t.Fatalf("restored sequence = %d, want %d", restored.Sequence(), db.Sequence())
	}
	got, err := restored.Get(nil, []byte("k3"), 0)
	if err != nil || string(got) != "v3" {
		t.Fatalf("restored get k3 = %q, %v", got, err)
	}
	if _, err := restored.Get(nil, []byte("k7"), 0); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key resurrected: %v", err)
	}

	rcf := restored.byName["logs"]
	if rcf == nil {
		t.Fatal("restored db missing column family logs")
	}
	got, err = restored.Get(rcf, []byte("l5"), 0)
	if err != nil || string(got) != "log" {
		t.Fatalf("restored cf get = %q, %v", got, err)
	}
}

func TestBackupListAndDelete(t *testing.T) {
	db := Open(DefaultOptions())
	defer db.Close()
	if err := db.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	be, err := OpenBackupEngine(t.TempDir(), SnappyCodec)
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}

	infos, err := be.ListBackups()
	if err != nil || len(infos) != 0 {
		t.Fatalf("fresh dir list = %v, %v", infos, err)
	}
	for idx := 0; idx < 3; idx++ {
		if _, err := be.CreateBackup(db); err != nil {
			t.Fatalf("create backup: %v", err)
		}
	}
	infos, err = be.ListBackups()
	if err != nil || len(infos) != 3 {
		t.Fatalf("list = %d backups, %v, want 3", len(infos), err)
	}
	for i, info := range infos {
		if info.ID != uint32(i+1) {
			t.Fatalf("backup %d has ID %d, want ascending from 1", i, info.ID)
		}
	}

	if err := be.DeleteBackup(2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := be.VerifyBackup(2); !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("verify deleted: %v, want ErrBackupNotFound", err)
	}
	if err := be.DeleteBackup(99); !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("delete missing: %v, want ErrBackupNotFound", err)
	}

	// IDs keep ascending past the deleted hole.
	info, err := be.CreateBackup(db)
	if err != nil || info.ID != 4 {
		t.Fatalf("next backup ID = %d, %v, want 4", info.ID, err)
	}
}

func TestBackupDetectsCorruption(t *testing.T) {
	db := Open(DefaultOptions())
	defer db.Close()
	if err := db.Put(nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	be, err := OpenBackupEngine(t.TempDir(), NoCompression)
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	info, err := be.CreateBackup(db)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	path := be.dataPath(info.ID)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("rewrite data file: %v", err)
	}

	if err := be.VerifyBackup(info.ID); !errors.Is(err, ErrBackupCorrupt) {
		t.Fatalf("verify corrupt: %v, want ErrBackupCorrupt", err)
	}
	if _, err := be.RestoreBackup(info.ID, DefaultOptions()); !errors.Is(err, ErrBackupCorrupt) {
		t.Fatalf("restore corrupt: %v, want ErrBackupCorrupt", err)
	}
}

func TestBackupOfClosedDB(t *testing.T) {
	db := Open(DefaultOptions())
	_ = db.Close()
	be, err := OpenBackupEngine(t.TempDir(), NoCompression)
	if err != nil {
		t.Fatalf("open backup engine: %v", err)
	}
	if _, err := be.CreateBackup(db); !errors.Is(err, ErrDBClosed) {
		t.Fatalf("backup of closed db: %v, want ErrDBClosed", err)
	}
}

func TestBackupUnsupportedCodec(t *testing.T) {
	if _, err := OpenBackupEngine(t.TempDir(), Codec(0x2)); err == nil {
		t.Fatal("open with unsupported codec should fail")
	}
}
