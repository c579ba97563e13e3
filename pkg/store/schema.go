package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Schema version constants
const (
	// SchemaVersion1 holds folders, entries, entry tags and entry data.
	SchemaVersion1 = 1
	// CurrentSchemaVersion is the version Bootstrap creates.
	CurrentSchemaVersion = SchemaVersion1
)

// Seed content written by Bootstrap.
const (
	DefaultFolderName  = "Online"
	DefaultIcon        = "default"
	WelcomeEntryName   = "Welcome"
	WelcomeSectionName = "Letter"
	WelcomeSectionType = "blob"
	WelcomeMessage     = "Thanks for using keylight!"
)

// Folder groups entries.
type Folder struct {
	bun.BaseModel `bun:"table:folders"`

	ID   int64  `bun:"folder_id,pk,autoincrement"`
	Name string `bun:"folder_name,notnull"`
	Icon string `bun:"folder_icon,notnull"`
}

// Entry is one stored credential or note.
type Entry struct {
	bun.BaseModel `bun:"table:entries"`

	ID        int64  `bun:"entry_id,pk,autoincrement"`
	FolderID  int64  `bun:"folder_id,notnull"`
	Name      string `bun:"entry_name,notnull"`
	Icon      string `bun:"entry_icon,notnull"`
	IsDeleted bool   `bun:"is_deleted,notnull,default:0"`
}

// EntryTag labels an entry.
type EntryTag struct {
	bun.BaseModel `bun:"table:entry_tags"`

	ID      int64  `bun:"tag_id,pk,autoincrement"`
	EntryID int64  `bun:"entry_id,notnull"`
	Name    string `bun:"tag_name,notnull"`
}

// EntryData is one section of an entry's content.
type EntryData struct {
	bun.BaseModel `bun:"table:entry_data"`

	ID      int64  `bun:"data_id,pk,autoincrement"`
	EntryID int64  `bun:"entry_id,notnull"`
	Name    string `bun:"section_name,notnull"`
	Type    string `bun:"section_type,notnull"`
	Data    []byte `bun:"section_data,type:blob"`
}

// SchemaVersion records applied schema versions.
type SchemaVersion struct {
	bun.BaseModel `bun:"table:schema_version"`

	Version    int       `bun:"version,pk"`
	MigratedAt time.Time `bun:"migrated_at,nullzero,notnull,default:current_timestamp"`
}

type table struct {
	model       any
	foreignKeys []string
}

var tables = []table{
	{model: (*SchemaVersion)(nil)},
	{model: (*Folder)(nil)},
	{
		model:       (*Entry)(nil),
		foreignKeys: []string{`("folder_id") REFERENCES "folders" ("folder_id") ON DELETE CASCADE`},
	},
	{
		model:       (*EntryTag)(nil),
		foreignKeys: []string{`("entry_id") REFERENCES "entries" ("entry_id") ON DELETE CASCADE`},
	},
	{
		model:       (*EntryData)(nil),
		foreignKeys: []string{`("entry_id") REFERENCES "entries" ("entry_id") ON DELETE CASCADE`},
	},
}

// Bootstrap creates the schema and the welcome content in one transaction.
// Either everything is committed or nothing is.
func (d *DB) Bootstrap(ctx context.Context) error {
	err := d.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, t := range tables {
			q := tx.NewCreateTable().Model(t.model).IfNotExists()
			for _, fk := range t.foreignKeys {
				q = q.ForeignKey(fk)
			}
			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("create table: %w", err)
			}
		}

		if _, err := tx.NewInsert().
			Model(&SchemaVersion{Version: CurrentSchemaVersion}).
			Column("version").
			Exec(ctx); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}

		return seed(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	return nil
}

// seed inserts the default folder with a welcome entry.
func seed(ctx context.Context, tx bun.Tx) error {
	folder := &Folder{Name: DefaultFolderName, Icon: DefaultIcon}
	if _, err := tx.NewInsert().Model(folder).
		Column("folder_name", "folder_icon").
		Returning("folder_id").
		Exec(ctx); err != nil {
		return fmt.Errorf("seed folder: %w", err)
	}

	entry := &Entry{FolderID: folder.ID, Name: WelcomeEntryName, Icon: DefaultIcon}
	if _, err := tx.NewInsert().Model(entry).
		Column("folder_id", "entry_name", "entry_icon").
		Returning("entry_id").
		Exec(ctx); err != nil {
		return fmt.Errorf("seed entry: %w", err)
	}

	data := &EntryData{
		EntryID: entry.ID,
		Name:    WelcomeSectionName,
		Type:    WelcomeSectionType,
		Data:    []byte(WelcomeMessage),
	}
	if _, err := tx.NewInsert().Model(data).
		Column("entry_id", "section_name", "section_type", "section_data").
		Exec(ctx); err != nil {
		return fmt.Errorf("seed entry data: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version, or 0 when the
// database has never been bootstrapped.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	exists, err := d.bun.NewSelect().
		Table("sqlite_master").
		Where("type = ?", "table").
		Where("name = ?", "schema_version").
		Exists(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: failed to check schema_version table: %w", err)
	}
	if !exists {
		return 0, nil
	}

	var version sql.NullInt64
	err = d.bun.NewSelect().
		Model((*SchemaVersion)(nil)).
		ColumnExpr("MAX(version)").
		Scan(ctx, &version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}
	return int(version.Int64), nil
}

// CheckSchema verifies that the database was bootstrapped by a compatible
// version. It is the first statement that reads database pages, so a wrong
// key surfaces here on an encrypted engine.
func (d *DB) CheckSchema(ctx context.Context) error {
	v, err := d.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	switch {
	case v == 0:
		return ErrSchemaMissing
	case v > CurrentSchemaVersion:
		return fmt.Errorf("%w: got %d, max supported %d", ErrUnsupportedSchema, v, CurrentSchemaVersion)
	}
	return nil
}
