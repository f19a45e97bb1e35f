package engine

// backup.go implements the backup engine.
//
// A backup is a consistent capture of every column family, serialized into a
// single compressed blob with an XXH3 checksum, plus a JSON metadata file.
// Layout under the backup directory:
//
//	data/<id>.bak  — [codec byte][compressed payload]
//	meta/<id>.json — backupMeta
//
// Backups are identified by ascending uint32 IDs. The source database's
// session ID is recorded so a backup can be tied to the instance that
// produced it.

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
)

var (
	// ErrBackupNotFound is returned when the requested backup ID does not exist.
	ErrBackupNotFound = errors.New("engine: backup not found")

	// ErrBackupCorrupt is returned when a backup fails verification.
	ErrBackupCorrupt = errors.New("engine: backup corrupt")
)

// BackupInfo describes one stored backup.
type BackupInfo struct {
	ID         uint32
	CreatedAt  time.Time
	SessionID  string
	Sequence   uint64
	Size       int64
	NumEntries int
}

// backupMeta is the persisted metadata format.
type backupMeta struct {
	ID          uint32 `json:"id"`
	CreatedUnix int64  `json:"created_unix"`
	SessionID   string `json:"session_id"`
	Sequence    uint64 `json:"sequence"`
	Codec       uint8  `json:"codec"`
	Checksum    uint64 `json:"checksum"`
	Size        int64  `json:"size"`
	NumEntries  int    `json:"num_entries"`
}

// BackupEngine manages backups in one backup directory. It has no parent
// database; any open database can be backed up through it.
type BackupEngine struct {
	dir   string
	codec Codec
}

// OpenBackupEngine opens (creating if needed) a backup directory.
func OpenBackupEngine(dir string, codec Codec) (*BackupEngine, error) {
	if !codec.IsSupported() {
		return nil, fmt.Errorf("engine: backup codec %s not supported", codec)
	}
	for _, sub := range []string{"data", "meta"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("engine: create backup directory: %w", err)
		}
	}
	return &BackupEngine{dir: dir, codec: codec}, nil
}

// Dir returns the backup directory.
func (be *BackupEngine) Dir() string { return be.dir }

// CreateBackup captures the current state of db as a new backup.
// Writes are held off for the duration of the capture.
func (be *BackupEngine) CreateBackup(db *DB) (*BackupInfo, error) {
	if db.closed.Load() {
		return nil, ErrDBClosed
	}

	db.writeMu.Lock()
	seq := db.seq.Load()
	payload, numEntries := db.serializeState()
	db.writeMu.Unlock()

	body, err := compress(be.codec, payload)
	if err != nil {
		return nil, fmt.Errorf("engine: compress backup: %w", err)
	}
	block := make([]byte, 0, 1+len(body))
	block = append(block, byte(be.codec))
	block = append(block, body...)

	id, err := be.nextBackupID()
	if err != nil {
		return nil, err
	}

	meta := backupMeta{
		ID:          id,
		CreatedUnix: time.Now().Unix(),
		SessionID:   db.sessionID,
		Sequence:    seq,
		Codec:       uint8(be.codec),
		Checksum:    xxh3.Hash(block),
		Size:        int64(len(block)),
		NumEntries:  numEntries,
	}

	if err := os.WriteFile(be.dataPath(id), block, 0o644); err != nil {
		return nil, fmt.Errorf("engine: write backup data: %w", err)
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("engine: encode backup meta: %w", err)
	}
	if err := os.WriteFile(be.metaPath(id), metaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("engine: write backup meta: %w", err)
	}
	info := meta.info()
	return &info, nil
}

// ListBackups returns all backups sorted by ascending ID.
func (be *BackupEngine) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(filepath.Join(be.dir, "meta"))
	if err != nil {
		return nil, fmt.Errorf("engine: list backups: %w", err)
	}
	var infos []BackupInfo
	for _, ent := range entries {
		var id uint32
		if _, err := fmt.Sscanf(ent.Name(), "%d.json", &id); err != nil {
			continue
		}
		meta, err := be.readMeta(id)
		if err != nil {
			continue
		}
		infos = append(infos, meta.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// VerifyBackup checks the backup's size and checksum against its metadata.
func (be *BackupEngine) VerifyBackup(id uint32) error {
	meta, err := be.readMeta(id)
	if err != nil {
		return err
	}
	block, err := os.ReadFile(be.dataPath(id))
	if err != nil {
		return fmt.Errorf("backup %d: %w", id, ErrBackupCorrupt)
	}
	if int64(len(block)) != meta.Size || xxh3.Hash(block) != meta.Checksum {
		return fmt.Errorf("backup %d: %w", id, ErrBackupCorrupt)
	}
	return nil
}

// DeleteBackup removes a backup's data and metadata.
func (be *BackupEngine) DeleteBackup(id uint32) error {
	if _, err := be.readMeta(id); err != nil {
		return err
	}
	if err := os.Remove(be.dataPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("engine: delete backup data: %w", err)
	}
	if err := os.Remove(be.metaPath(id)); err != nil {
		return fmt.Errorf("engine: delete backup meta: %w", err)
	}
	return nil
}

// RestoreBackup materializes the backup as a new database instance with a
// fresh session identity.
func (be *BackupEngine) RestoreBackup(id uint32, opts Options) (*DB, error) {
	if err := be.VerifyBackup(id); err != nil {
		return nil, err
	}
	meta, err := be.readMeta(id)
	if err != nil {
		return nil, err
	}
	block, err := os.ReadFile(be.dataPath(id))
	if err != nil {
		return nil, fmt.Errorf("backup %d: %w", id, ErrBackupCorrupt)
	}
	payload, err := decompress(Codec(block[0]), block[1:])
	if err != nil {
		return nil, fmt.Errorf("backup %d: %w", id, ErrBackupCorrupt)
	}

	db := Open(opts)
	if err := db.restoreState(payload); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("backup %d: %w", id, err)
	}
	db.seq.Store(meta.Sequence)
	return db, nil
}

func (be *BackupEngine) dataPath(id uint32) string {
	return filepath.Join(be.dir, "data", fmt.Sprintf("%06d.bak", id))
}

func (be *BackupEngine) metaPath(id uint32) string {
	return filepath.Join(be.dir, "meta", fmt.Sprintf("%06d.json", id))
}

func (be *BackupEngine) readMeta(id uint32) (*backupMeta, error) {
	raw, err := os.ReadFile(be.metaPath(id))
	if err != nil {
		return nil, fmt.Errorf("backup %d: %w", id, ErrBackupNotFound)
	}
	var meta backupMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("backup %d: %w", id, ErrBackupCorrupt)
	}
	return &meta, nil
}

func (be *BackupEngine) nextBackupID() (uint32, error) {
	infos, err := be.ListBackups()
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 1, nil
	}
	return infos[len(infos)-1].ID + 1, nil
}

func (m *backupMeta) info() BackupInfo {
	return BackupInfo{
		ID:         m.ID,
		CreatedAt:  time.Unix(m.CreatedUnix, 0),
		SessionID:  m.SessionID,
		Sequence:   m.Sequence,
		Size:       m.Size,
		NumEntries: m.NumEntries,
	}
}

// serializeState captures every column family's raw entries:
//
//	cf_count : uint32
//	per cf   : id u32, name_len u32, name, entry_count u64,
//	           then per entry: entry_len u32, entry bytes
//
// REQUIRES: db.writeMu held.
func (db *DB) serializeState() ([]byte, int) {
	db.cfMu.RLock()
	defer db.cfMu.RUnlock()

	cfs := make([]*ColumnFamily, 0, len(db.byID))
	for _, cf := range db.byID {
		cfs = append(cfs, cf)
	}
	sort.Slice(cfs, func(i, j int) bool { return cfs[i].id < cfs[j].id })

	total := 0
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(cfs)))
	for _, cf := range cfs {
		buf = binary.BigEndian.AppendUint32(buf, cf.id)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(cf.name)))
		buf = append(buf, cf.name...)

		data := cf.data.Load()
		var count uint64
		if data != nil {
			count = uint64(data.len())
		}
		buf = binary.BigEndian.AppendUint64(buf, count)
		if data == nil {
			continue
		}
		it := data.iterator()
		for it.seekToFirst(); it.valid(); it.next() {
			entry := it.entry()
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(entry)))
			buf = append(buf, entry...)
			total++
		}
	}
	return buf, total
}

// restoreState rebuilds column families and entries from a serialized
// capture. The receiver must be freshly opened.
func (db *DB) restoreState(payload []byte) error {
	if len(payload) < 4 {
		return ErrBackupCorrupt
	}
	cfCount := binary.BigEndian.Uint32(payload)
	pos := 4

	db.cfMu.Lock()
	defer db.cfMu.Unlock()

	for i := uint32(0); i < cfCount; i++ {
		if len(payload)-pos < 8 {
			return ErrBackupCorrupt
		}
		id := binary.BigEndian.Uint32(payload[pos:])
		nameLen := int(binary.BigEndian.Uint32(payload[pos+4:]))
		pos += 8
		if len(payload)-pos < nameLen+8 {
			return ErrBackupCorrupt
		}
		name := string(payload[pos : pos+nameLen])
		pos += nameLen
		count := binary.BigEndian.Uint64(payload[pos:])
		pos += 8

		cf := db.byID[id]
		if cf == nil {
			cf = newColumnFamily(id, name)
			db.byName[name] = cf
			db.byID[id] = cf
			if id >= db.nextCFID {
				db.nextCFID = id + 1
			}
		}
		data := cf.data.Load()
		for j := uint64(0); j < count; j++ {
			if len(payload)-pos < 4 {
				return ErrBackupCorrupt
			}
			elen := int(binary.BigEndian.Uint32(payload[pos:]))
			pos += 4
			if len(payload)-pos < elen {
				return ErrBackupCorrupt
			}
			data.insert(append([]byte(nil), payload[pos:pos+elen]...))
			pos += elen
		}
	}
	return nil
}
