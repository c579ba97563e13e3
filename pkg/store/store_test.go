package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:            filepath.Join(t.TempDir(), "main.db"),
		Key:             []byte("Alpha~bravo~charlie~delta~echo~foxtrot"),
		ForeignKeys:     true,
		JournalMode:     JournalMemory,
		CreateIfMissing: true,
	}
}

func openTestDB(t *testing.T, cfg Config) *DB {
	t.Helper()
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_Pragmas(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t))

	var fk int
	require.NoError(t, db.Bun().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var journal string
	require.NoError(t, db.Bun().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "memory", journal)
}

func TestOpen_InvalidConfig(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Path = ""
	_, err := Open(ctx, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig(t)
	cfg.Key = nil
	_, err = Open(ctx, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig(t)
	cfg.JournalMode = "SIDEWAYS"
	_, err = Open(ctx, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpen_MissingWithoutCreate(t *testing.T) {
	cfg := testConfig(t)
	cfg.CreateIfMissing = false

	_, err := Open(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
}

func TestBootstrap_SeedsWelcomeContent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t))

	require.ErrorIs(t, db.CheckSchema(ctx), ErrSchemaMissing)
	require.NoError(t, db.Bootstrap(ctx))
	require.NoError(t, db.CheckSchema(ctx))

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	folders, err := db.Folders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, DefaultFolderName, folders[0].Name)
	assert.Equal(t, DefaultIcon, folders[0].Icon)

	entries, err := db.Entries(ctx, folders[0].ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, WelcomeEntryName, entries[0].Name)
	assert.False(t, entries[0].IsDeleted)

	sections, err := db.Sections(ctx, entries[0].ID)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, WelcomeSectionName, sections[0].Name)
	assert.Equal(t, WelcomeSectionType, sections[0].Type)
	assert.Equal(t, WelcomeMessage, string(sections[0].Data))

	stats, err := db.FoldersWithStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].EntryCount)
}

func TestBootstrap_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, db.Bootstrap(ctx))
	require.NoError(t, db.Close())

	cfg.CreateIfMissing = false
	db = openTestDB(t, cfg)
	require.NoError(t, db.CheckSchema(ctx))

	folders, err := db.Folders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, DefaultFolderName, folders[0].Name)
}

func TestBootstrap_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t))

	// An incompatible entry_data table makes the seed insert fail after
	// every other table has been created inside the transaction.
	_, err := db.Bun().ExecContext(ctx, `CREATE TABLE entry_data (unrelated INTEGER)`)
	require.NoError(t, err)

	err = db.Bootstrap(ctx)
	require.ErrorIs(t, err, ErrBootstrap)

	for _, name := range []string{"schema_version", "folders", "entries", "entry_tags"} {
		exists, err := db.Bun().NewSelect().
			Table("sqlite_master").
			Where("type = ?", "table").
			Where("name = ?", name).
			Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists, "table %s survived a failed bootstrap", name)
	}
	assert.ErrorIs(t, db.CheckSchema(ctx), ErrSchemaMissing)
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, testConfig(t))
	require.NoError(t, db.Bootstrap(ctx))

	_, err := db.Bun().NewInsert().
		Model(&Entry{FolderID: 999, Name: "orphan", Icon: DefaultIcon}).
		Column("folder_id", "entry_name", "entry_icon").
		Exec(ctx)
	assert.Error(t, err)
}

func TestKeyPragmaQuoting(t *testing.T) {
	assert.Equal(t, "PRAGMA key = 'plain'", keyPragma([]byte("plain")))
	assert.Equal(t, "PRAGMA key = 'it''s'", keyPragma([]byte("it's")))
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Path: "/tmp/vault dir/main.db", CreateIfMissing: true}
	assert.Equal(t, "file:/tmp/vault%20dir/main.db?mode=rwc", cfg.dsn())

	cfg.CreateIfMissing = false
	assert.Equal(t, "file:/tmp/vault%20dir/main.db?mode=rw", cfg.dsn())
}

func TestWipeFolders(t *testing.T) {
	folders := []Folder{{ID: 1, Name: "Online", Icon: "default"}}
	WipeFolders(folders)
	assert.Equal(t, Folder{}, folders[0])

	data := []byte("secret note")
	sections := []EntryData{{ID: 1, Data: data}}
	WipeSections(sections)
	assert.Equal(t, make([]byte, len(data)), data)
}

func TestValidJournalMode(t *testing.T) {
	for _, mode := range []string{JournalDelete, JournalTruncate, JournalPersist, JournalMemory, JournalWAL, JournalOff, "wal", "Memory"} {
		assert.True(t, ValidJournalMode(mode), mode)
	}
	for _, mode := range []string{"", "SIDEWAYS", "memory;"} {
		assert.False(t, ValidJournalMode(mode), mode)
	}
}
