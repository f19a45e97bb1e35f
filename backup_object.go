package rockbind

// backup_object.go implements the backup engine resource object.
//
// Unlike the other dependent kinds, a backup engine has no parent database:
// it is rooted in a backup directory and any open database can be captured
// through it.

import (
	"sync/atomic"

	"github.com/aalhour/rockbind/internal/engine"
	"github.com/aalhour/rockbind/internal/logging"
)

// BackupEngineObject wraps one engine backup engine.
type BackupEngineObject struct {
	LifecycleObject

	token  Token
	logger logging.Logger

	be atomic.Pointer[engine.BackupEngine]
}

// Kind implements Resource.
func (o *BackupEngineObject) Kind() ResourceKind { return KindBackupEngine }

// Token returns the host-visible token of this object.
func (o *BackupEngineObject) Token() Token { return o.token }

// backupEngine returns the engine handle, or ErrAlreadyClosing once Shutdown
// released it.
func (o *BackupEngineObject) backupEngine() (*engine.BackupEngine, error) {
	be := o.be.Load()
	if be == nil {
		return nil, ErrAlreadyClosing
	}
	return be, nil
}

// OpenBackupEngine opens (creating if needed) a backup directory and returns
// a token for the backup engine.
func (r *Registry) OpenBackupEngine(dir string, opts BackupOptions) (Token, error) {
	be, err := engine.OpenBackupEngine(dir, opts.Codec)
	if err != nil {
		return 0, err
	}
	o := &BackupEngineObject{logger: r.logger}
	o.be.Store(be)
	o.initLifecycle(o.shutdownImpl, o.destroyImpl)
	o.token = r.register(o)
	o.logger.Infof(logging.NSBackup+"token %d: opened backup engine at %s", o.token, dir)
	return o.token, nil
}

// RetrieveBackupEngineObject resolves a token to a backup engine object.
func (r *Registry) RetrieveBackupEngineObject(tok Token) (*BackupEngineObject, error) {
	res, err := r.retrieve(tok, KindBackupEngine)
	if err != nil {
		return nil, err
	}
	return res.(*BackupEngineObject), nil
}

// CreateBackup captures the current state of the database as a new backup.
func (r *Registry) CreateBackup(beTok, dbTok Token) (*engine.BackupInfo, error) {
	o, err := r.RetrieveBackupEngineObject(beTok)
	if err != nil {
		return nil, err
	}
	o.Ref()
	defer o.Unref()
	be, err := o.backupEngine()
	if err != nil {
		return nil, err
	}
	db, err := r.RetrieveDBObject(dbTok)
	if err != nil {
		return nil, err
	}
	db.Ref()
	defer db.Unref()
	eng, err := db.engine()
	if err != nil {
		return nil, err
	}
	info, err := be.CreateBackup(eng)
	if err != nil {
		return nil, err
	}
	o.logger.Infof(logging.NSBackup+"token %d: created backup %d at seq %d", beTok, info.ID, info.Sequence)
	return info, nil
}

// ListBackups returns all backups sorted by ascending ID.
func (r *Registry) ListBackups(beTok Token) ([]engine.BackupInfo, error) {
	o, err := r.RetrieveBackupEngineObject(beTok)
	if err != nil {
		return nil, err
	}
	o.Ref()
	defer o.Unref()
	be, err := o.backupEngine()
	if err != nil {
		return nil, err
	}
	return be.ListBackups()
}

// VerifyBackup checks a backup's size and checksum against its metadata.
func (r *Registry) VerifyBackup(beTok Token, id uint32) error {
	o, err := r.RetrieveBackupEngineObject(beTok)
	if err != nil {
		return err
	}
	o.Ref()
	defer o.Unref()
	be, err := o.backupEngine()
	if err != nil {
		return err
	}
	return be.VerifyBackup(id)
}

// DeleteBackup removes a backup's data and metadata.
func (r *Registry) DeleteBackup(beTok Token, id uint32) error {
	o, err := r.RetrieveBackupEngineObject(beTok)
	if err != nil {
		return err
	}
	o.Ref()
	defer o.Unref()
	be, err := o.backupEngine()
	if err != nil {
		return err
	}
	return be.DeleteBackup(id)
}

// RestoreBackup materializes a backup as a new database object with a fresh
// session identity and returns its token.
func (r *Registry) RestoreBackup(beTok Token, id uint32, opts Options) (Token, error) {
	o, err := r.RetrieveBackupEngineObject(beTok)
	if err != nil {
		return 0, err
	}
	o.Ref()
	defer o.Unref()
	be, err := o.backupEngine()
	if err != nil {
		return 0, err
	}
	eng, err := be.RestoreBackup(id, opts.engineOptions())
	if err != nil {
		return 0, err
	}
	db := newDBObject(r, eng, logging.OrDefault(opts.Logger))
	o.logger.Infof(logging.NSBackup+"token %d: restored backup %d as db token %d", beTok, id, db.token)
	return db.token, nil
}

// CloseBackupEngine explicitly closes a backup engine.
func (r *Registry) CloseBackupEngine(tok Token) error {
	o, err := r.RetrieveBackupEngineObject(tok)
	if err != nil {
		return err
	}
	closeResource(o)
	return nil
}

// shutdownImpl releases the engine handle and drops the registry's baseline
// hold.
func (o *BackupEngineObject) shutdownImpl() {
	o.be.Store(nil)
	o.Unref()
}

func (o *BackupEngineObject) destroyImpl() {
	o.logger.Debugf(logging.NSBackup+"token %d: destroyed", o.token)
}
