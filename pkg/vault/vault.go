// Package vault creates and unlocks keylight vaults.
//
// A vault directory holds the keyfile, the encrypted database and a lock
// file. The master password never reaches the database layer: it derives a
// key that seals the recovery passphrase, and the recovery passphrase is the
// database key.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/forest6511/keylight/internal/logging"
	"github.com/forest6511/keylight/pkg/audit"
	"github.com/forest6511/keylight/pkg/crypto"
	"github.com/forest6511/keylight/pkg/keyfile"
	"github.com/forest6511/keylight/pkg/notify"
	"github.com/forest6511/keylight/pkg/secure"
	"github.com/forest6511/keylight/pkg/store"
)

// Vault files
const (
	KeyfileName      = "main.keyfile"
	DBFileName       = "main.db"
	LockFileName     = "main.lock"
	AttemptsFileName = "main.attempts"
	AuditDirName     = "audit"
)

// File permissions
const (
	FileMode = 0600
	DirMode  = 0700
)

// MinDiskSpaceBytes is the free space Create requires.
const MinDiskSpaceBytes = 1 << 20

// DiskSpaceInfo contains disk space information
type DiskSpaceInfo struct {
	Total     uint64 // Total disk space in bytes
	Free      uint64 // Free disk space in bytes
	Available uint64 // Available to non-root users
	UsedPct   int    // Usage percentage
}

// State is the position of a Session in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateCreating
	StateUnlockable
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreating:
		return "creating"
	case StateUnlockable:
		return "unlockable"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Config configures a Manager. Only Dir is required.
type Config struct {
	Dir string

	Deriver   KeyDeriver
	Keyfiles  Keyfiles
	Cipher    Cipher
	Connector Connector

	Notices *notify.Queue
	Logger  logging.Logger
	Audit   *audit.Logger

	MinPasswordLength int
	JournalMode       string

	// DiskSpace overrides the free space probe. Used by tests.
	DiskSpace func() (*DiskSpaceInfo, error)
}

// Manager owns one vault directory.
type Manager struct {
	dir string

	deriver   KeyDeriver
	keyfiles  Keyfiles
	cipher    Cipher
	connector Connector

	notices *notify.Queue
	log     logging.Logger
	audit   *audit.Logger

	minPasswordLength int
	journalMode       string
	diskSpace         func() (*DiskSpaceInfo, error)
	now               func() time.Time
}

// New returns a Manager for cfg.Dir.
func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: empty vault directory", ErrInvalidInput)
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	m := &Manager{
		dir:               dir,
		deriver:           cfg.Deriver,
		keyfiles:          cfg.Keyfiles,
		cipher:            cfg.Cipher,
		connector:         cfg.Connector,
		notices:           cfg.Notices,
		log:               cfg.Logger,
		audit:             cfg.Audit,
		minPasswordLength: cfg.MinPasswordLength,
		journalMode:       cfg.JournalMode,
		diskSpace:         cfg.DiskSpace,
		now:               time.Now,
	}
	if m.deriver == nil {
		d, err := crypto.NewDeriver(crypto.DefaultParams())
		if err != nil {
			return nil, err
		}
		m.deriver = d
	}
	if m.keyfiles == nil {
		m.keyfiles = keyfile.FileStore{}
	}
	if m.cipher == nil {
		m.cipher = crypto.Envelope{}
	}
	if m.connector == nil {
		m.connector = StoreConnector{}
	}
	if m.notices == nil {
		m.notices = notify.NewQueue()
	}
	if m.log == nil {
		m.log = logging.Nop()
	}
	if m.minPasswordLength < MinPasswordLength {
		m.minPasswordLength = MinPasswordLength
	}
	if m.journalMode == "" {
		m.journalMode = store.JournalMemory
	}
	if m.diskSpace == nil {
		m.diskSpace = m.CheckDiskSpace
	}
	return m, nil
}

// Dir returns the vault directory.
func (m *Manager) Dir() string { return m.dir }

// Audit returns the audit logger, or nil when auditing is off.
func (m *Manager) Audit() *audit.Logger { return m.audit }

// Notices returns the queue failures are reported on.
func (m *Manager) Notices() *notify.Queue { return m.notices }

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name)
}

// Exists reports whether the vault directory holds a keyfile.
func (m *Manager) Exists() bool {
	return m.keyfiles.Exists(m.path(KeyfileName))
}

func (m *Manager) anyFileExists() bool {
	if m.Exists() {
		return true
	}
	_, err := os.Stat(m.path(DBFileName))
	return err == nil
}

// NewSession starts a new open attempt.
func (m *Manager) NewSession() *Session {
	s := &Session{
		m:     m,
		id:    uuid.NewString(),
		state: StateUninitialized,
	}
	if m.Exists() {
		s.state = StateUnlockable
	}
	s.log = m.log.With("session", s.id)
	return s
}

// Session is one open attempt against a vault.
//
// A Session runs a single flow at a time. In-progress state is never shared
// between sessions.
type Session struct {
	m   *Manager
	id  string
	log logging.Logger

	mu      sync.Mutex
	state   State
	busy    bool
	lock    *flock.Flock
	db      Database
	folders []store.Folder
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin claims the session for one flow. want lists the states it may start from.
func (s *Session) begin(step string, want ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return stepErr(ErrInvalidState, step, "Unexpected Error: another operation is in progress", nil)
	}
	for _, st := range want {
		if s.state == st {
			s.busy = true
			return nil
		}
	}
	return stepErr(ErrInvalidState, step,
		fmt.Sprintf("Unexpected Error: cannot %s a vault that is %s", step, s.state), nil)
}

func (s *Session) finish(next State) {
	s.mu.Lock()
	s.state = next
	s.busy = false
	s.mu.Unlock()
}

// fail reports err on the notification queue and the log and returns it.
func (s *Session) fail(ctx context.Context, err error) error {
	s.m.notices.Push(noticeOf(err))
	s.log.Error(ctx, "vault flow failed", "code", Code(err), "error", err)
	return err
}

func (s *Session) acquireLock(step string) error {
	fl := flock.New(s.m.path(LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return stepErr(ErrIO, step, "Unexpected Error: failed to lock vault", err)
	}
	if !ok {
		return stepErr(ErrVaultBusy, step, "Unexpected Error: vault is in use by another process", nil)
	}
	s.lock = fl
	return nil
}

func (s *Session) releaseLock() {
	if s.lock == nil {
		return
	}
	_ = s.lock.Unlock()
	s.lock = nil
}

func (s *Session) storeConfig(key []byte, create bool) store.Config {
	return store.Config{
		Path:            s.m.path(DBFileName),
		Key:             key,
		ForeignKeys:     true,
		JournalMode:     s.m.journalMode,
		CreateIfMissing: create,
	}
}

// Create initializes a new vault protected by password, using recovery as the
// database key. Create takes ownership of both slices and zeroes them before
// returning, on every path.
func (s *Session) Create(ctx context.Context, password, recovery []byte) error {
	scope := secure.NewScope()
	defer scope.Wipe()
	scope.TrackBytes(password)
	scope.TrackBytes(recovery)

	if err := s.begin("create", StateUninitialized); err != nil {
		return s.fail(ctx, err)
	}
	next := StateUninitialized
	defer func() { s.finish(next) }()

	if err := s.validateCreate(password, recovery); err != nil {
		if errors.Is(err, ErrVaultExists) {
			next = StateUnlockable
		}
		return s.fail(ctx, err)
	}

	s.mu.Lock()
	s.state = StateCreating
	s.mu.Unlock()

	if err := s.prepareDir(ctx); err != nil {
		return s.fail(ctx, err)
	}
	if err := s.acquireLock("lock vault"); err != nil {
		return s.fail(ctx, err)
	}
	defer s.releaseLock()

	// re-check under the lock
	if s.m.anyFileExists() {
		next = StateUnlockable
		return s.fail(ctx, stepErr(ErrVaultExists, "create",
			"Unexpected Error: a vault already exists in this directory", nil))
	}

	record, key, err := s.seal(ctx, scope, password, recovery)
	if err != nil {
		return s.fail(ctx, err)
	}

	if err := s.m.keyfiles.Save(s.m.path(KeyfileName), record); err != nil {
		return s.fail(ctx, stepErr(ErrIO, "write keyfile", "Unexpected Error: failed to write keyfile", err))
	}

	if err := s.bootstrap(ctx, recovery); err != nil {
		s.removeVaultFiles(ctx)
		return s.fail(ctx, err)
	}

	s.log.Info(ctx, "vault created", "dir", s.m.dir)
	s.appendAudit(ctx, key.Bytes(), audit.Event{
		Operation: audit.OpVaultCreate,
		Result:    audit.ResultSuccess,
	})
	next = StateUnlockable
	return nil
}

func (s *Session) validateCreate(password, recovery []byte) error {
	if n := utf8.RuneCount(password); n < s.m.minPasswordLength {
		return stepErr(ErrPasswordTooShort, "validate password", shortPasswordNotice(s.m.minPasswordLength), nil)
	}
	if len(password) > MaxPasswordLength {
		return stepErr(ErrPasswordTooLong, "validate password",
			fmt.Sprintf("Please keep your Master password under %d bytes", MaxPasswordLength), nil)
	}
	if len(recovery) == 0 {
		return stepErr(ErrInvalidInput, "validate recovery passphrase",
			"Unexpected Error: the recovery passphrase is empty", nil)
	}
	if s.m.anyFileExists() {
		return stepErr(ErrVaultExists, "create", "Unexpected Error: a vault already exists in this directory", nil)
	}
	return nil
}

func (s *Session) prepareDir(ctx context.Context) error {
	if err := os.MkdirAll(s.m.dir, DirMode); err != nil {
		return stepErr(ErrIO, "create vault directory", "Unexpected Error: failed to create vault directory", err)
	}
	info, err := s.m.diskSpace()
	if err != nil {
		// unknown free space is not fatal
		s.log.Warn(ctx, "disk space check failed", "error", err)
		return nil
	}
	if info.Available < MinDiskSpaceBytes {
		return stepErr(ErrInsufficientDisk, "check disk space", "Unexpected Error: not enough disk space", nil)
	}
	return nil
}

// seal runs Create steps 1 to 4 and returns the record to persist.
func (s *Session) seal(ctx context.Context, scope *secure.Scope, password, recovery []byte) (*keyfile.Record, *secure.Buffer, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, nil, stepErr(ErrIO, "generate salt", "Unexpected Error: failed to generate salt", err)
	}

	key, err := s.m.deriver.DeriveKey(ctx, password, salt)
	if err != nil {
		return nil, nil, stepErr(ErrKDF, "derive key", "Unexpected Error: key derivation failed", err)
	}
	scope.Track(key)

	nonce, ciphertext, err := s.m.cipher.Seal(key.Bytes(), recovery)
	if err != nil {
		return nil, nil, stepErr(ErrSerialization, "encrypt recovery passphrase",
			"Unexpected Error: failed to encrypt recovery passphrase", err)
	}
	scope.TrackBytes(ciphertext)

	hash, err := s.m.deriver.HashKey(ctx, key.Bytes())
	if err != nil {
		return nil, nil, stepErr(ErrKDF, "hash key", "Unexpected Error: key derivation failed", err)
	}

	record := &keyfile.Record{
		VerificationHash: hash,
		Salt:             salt,
		Nonce:            nonce,
		Ciphertext:       ciphertext,
	}
	scope.Defer(record.Wipe)
	return record, key, nil
}

// bootstrap runs Create steps 6 and 7.
func (s *Session) bootstrap(ctx context.Context, recovery []byte) error {
	db, err := s.m.connector.Open(ctx, s.storeConfig(recovery, true))
	if err != nil {
		return stepErr(ErrIO, "open database", "Unexpected Error: failed to open database", err)
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		return stepErr(ErrSchemaBootstrap, "bootstrap schema", "Unexpected Error: failed to create database schema", err)
	}
	return nil
}

// removeVaultFiles deletes a half-created vault.
func (s *Session) removeVaultFiles(ctx context.Context) {
	for _, name := range []string{KeyfileName, DBFileName, DBFileName + "-journal", DBFileName + "-wal", DBFileName + "-shm"} {
		if err := os.Remove(s.m.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn(ctx, "failed to remove vault file", "file", name, "error", err)
		}
	}
}

// Login unlocks the vault with password. Login takes ownership of password
// and zeroes it before returning. On success the session is Unlocked and
// keeps the database open until Close.
func (s *Session) Login(ctx context.Context, password []byte) error {
	scope := secure.NewScope()
	defer scope.Wipe()
	scope.TrackBytes(password)

	if err := s.begin("unlock", StateUnlockable, StateUninitialized); err != nil {
		return s.fail(ctx, err)
	}
	next := s.State()
	defer func() { s.finish(next) }()

	if !s.m.Exists() {
		next = StateUninitialized
		return s.fail(ctx, stepErr(ErrVaultNotFound, "read keyfile", "Unexpected Error: no vault found", nil))
	}
	next = StateUnlockable

	if err := s.acquireLock("lock vault"); err != nil {
		return s.fail(ctx, err)
	}
	unlocked := false
	defer func() {
		if !unlocked {
			s.releaseLock()
		}
	}()

	if err := s.checkCooldown(); err != nil {
		return s.fail(ctx, err)
	}

	record, key, err := s.authenticate(ctx, scope, password)
	if err != nil {
		return s.fail(ctx, err)
	}

	recovery, err := s.m.cipher.Open(key.Bytes(), record.Nonce, record.Ciphertext)
	if err != nil {
		return s.fail(ctx, stepErr(ErrDataIntegrity, "decrypt recovery passphrase",
			"Unexpected Error: the keyfile failed its integrity check", err))
	}
	scope.Track(recovery)
	if !utf8.Valid(recovery.Bytes()) {
		return s.fail(ctx, stepErr(ErrDataIntegrity, "decode recovery passphrase",
			"Unexpected Error: the keyfile failed its integrity check", nil))
	}

	db, folders, err := s.connect(ctx, recovery.Bytes())
	if err != nil {
		return s.fail(ctx, err)
	}

	failed := s.m.FailedAttempts()
	if err := s.m.clearLockState(); err != nil {
		s.log.Warn(ctx, "failed to clear unlock attempts", "error", err)
	}

	s.mu.Lock()
	s.db = db
	s.folders = folders
	s.mu.Unlock()
	unlocked = true
	next = StateUnlocked

	s.log.Info(ctx, "vault unlocked", "folders", len(folders))
	events := make([]audit.Event, 0, 2)
	if failed > 0 {
		events = append(events, audit.Event{
			Operation: audit.OpVaultUnlockFailed,
			Result:    audit.ResultError,
			Code:      Code(ErrAuthenticationFailed),
			Context:   map[string]any{"attempts": failed},
		})
	}
	events = append(events, audit.Event{Operation: audit.OpVaultUnlock, Result: audit.ResultSuccess})
	s.appendAudit(ctx, key.Bytes(), events...)
	return nil
}

// checkCooldown refuses a password attempt while a cooldown is in force.
// It must run before any derivation.
func (s *Session) checkCooldown() error {
	remaining, err := s.m.checkCooldown()
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCooldownActive) {
		return stepErr(ErrCooldownActive, "check cooldown",
			fmt.Sprintf("Too many failed attempts, try again in %s", remaining.Round(time.Second)), nil)
	}
	return stepErr(ErrIO, "check cooldown", "Unexpected Error: failed to read unlock attempts", err)
}

// authenticate runs Login steps 1 to 3. It never decrypts. Callers hold the
// vault lock and have passed checkCooldown.
func (s *Session) authenticate(ctx context.Context, scope *secure.Scope, password []byte) (*keyfile.Record, *secure.Buffer, error) {
	record, err := s.m.keyfiles.Load(s.m.path(KeyfileName))
	if err != nil {
		if errors.Is(err, keyfile.ErrCorrupt) || errors.Is(err, keyfile.ErrUnsupportedVersion) ||
			errors.Is(err, keyfile.ErrInvalidRecord) {
			return nil, nil, stepErr(ErrCorruptKeyfile, "read keyfile", "Unexpected Error: the keyfile is corrupt", err)
		}
		return nil, nil, stepErr(ErrIO, "read keyfile", "Unexpected Error: failed to read keyfile", err)
	}
	scope.Defer(record.Wipe)

	key, err := s.m.deriver.DeriveKey(ctx, password, record.Salt)
	if err != nil {
		return nil, nil, stepErr(ErrKDF, "derive key", "Unexpected Error: key derivation failed", err)
	}
	scope.Track(key)

	ok, err := s.m.deriver.VerifyKey(ctx, key.Bytes(), record.VerificationHash)
	if err != nil {
		if errors.Is(err, crypto.ErrMalformedHash) {
			return nil, nil, stepErr(ErrCorruptKeyfile, "verify key", "Unexpected Error: the keyfile is corrupt", err)
		}
		return nil, nil, stepErr(ErrKDF, "verify key", "Unexpected Error: key derivation failed", err)
	}
	if !ok {
		if cooldown, err := s.m.recordFailedAttempt(); err != nil {
			s.log.Warn(ctx, "failed to record unlock attempt", "error", err)
		} else if cooldown > 0 {
			s.log.Warn(ctx, "unlock cooldown started", "duration", cooldown)
		}
		return nil, nil, stepErr(ErrAuthenticationFailed, "verify key", "wrong password", nil)
	}
	return record, key, nil
}

// connect runs Login step 5 and reads the folder listing.
func (s *Session) connect(ctx context.Context, recovery []byte) (Database, []store.Folder, error) {
	db, err := s.m.connector.Open(ctx, s.storeConfig(recovery, false))
	if err != nil {
		return nil, nil, stepErr(ErrIO, "open database", "Unexpected Error: failed to open database", err)
	}
	if err := db.CheckSchema(ctx); err != nil {
		db.Close()
		return nil, nil, stepErr(ErrDataIntegrity, "check schema", "Unexpected Error: the database schema is invalid", err)
	}
	folders, err := db.Folders(ctx)
	if err != nil {
		db.Close()
		return nil, nil, stepErr(ErrIO, "list folders", "Unexpected Error: failed to read folders", err)
	}
	return db, folders, nil
}

// FolderStats returns every folder with its live entry count.
func (s *Session) FolderStats(ctx context.Context) ([]store.FolderWithStats, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}
	return db.FoldersWithStats(ctx)
}

// Entries lists the live entries of a folder.
func (s *Session) Entries(ctx context.Context, folderID int64) ([]store.Entry, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}
	return db.Entries(ctx, folderID)
}

// Sections returns the data sections of an entry. Callers release the
// content with store.WipeSections.
func (s *Session) Sections(ctx context.Context, entryID int64) ([]store.EntryData, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}
	return db.Sections(ctx, entryID)
}

// Folders returns the folders read at unlock. The slice is owned by the
// session and cleared by Close.
func (s *Session) Folders() ([]store.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnlocked {
		return nil, stepErr(ErrInvalidState, "list folders", "Unexpected Error: the vault is locked", nil)
	}
	return s.folders, nil
}

// Database returns the open database handle of an unlocked session.
func (s *Session) Database() (Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnlocked {
		return nil, stepErr(ErrInvalidState, "open database", "Unexpected Error: the vault is locked", nil)
	}
	return s.db, nil
}

// Close locks an unlocked session. Closing a locked session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnlocked {
		return nil
	}
	store.WipeFolders(s.folders)
	s.folders = nil
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	s.releaseLock()
	s.state = StateUnlockable
	return err
}

// appendAudit records events when an audit logger is configured. Audit
// failures are logged and never fail the flow.
func (s *Session) appendAudit(ctx context.Context, key []byte, events ...audit.Event) {
	if s.m.audit == nil {
		return
	}
	for i := range events {
		events[i].Session = s.id
	}
	if err := s.m.audit.Append(key, events...); err != nil {
		s.log.Warn(ctx, "failed to write audit log", "error", err)
	}
}

// VerifyAudit checks the audit chain. The password is authenticated first
// because the chain key is derived from the master key. VerifyAudit takes
// ownership of password and zeroes it.
func (s *Session) VerifyAudit(ctx context.Context, password []byte) (*audit.VerifyResult, error) {
	scope := secure.NewScope()
	defer scope.Wipe()
	scope.TrackBytes(password)

	if s.m.audit == nil {
		return nil, s.fail(ctx, stepErr(ErrInvalidInput, "verify audit log", "Unexpected Error: audit logging is disabled", nil))
	}
	if err := s.begin("verify audit log of", StateUnlockable, StateUnlocked); err != nil {
		return nil, s.fail(ctx, err)
	}
	state := s.State()
	defer s.finish(state)

	// an unlocked session already holds the lock
	if state != StateUnlocked {
		if err := s.acquireLock("lock vault"); err != nil {
			return nil, s.fail(ctx, err)
		}
		defer s.releaseLock()
	}
	if err := s.checkCooldown(); err != nil {
		return nil, s.fail(ctx, err)
	}

	_, key, err := s.authenticate(ctx, scope, password)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.m.audit.Verify(key.Bytes())
	if err != nil {
		return nil, s.fail(ctx, stepErr(ErrIO, "verify audit log", "Unexpected Error: failed to read audit log", err))
	}
	return result, nil
}
