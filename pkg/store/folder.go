package store

import (
	"context"
	"fmt"
)

// FolderWithStats extends Folder with computed statistics for listing.
type FolderWithStats struct {
	Folder
	EntryCount int
}

// Folders lists all folders ordered by id.
func (d *DB) Folders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	if err := d.bun.NewSelect().
		Model(&folders).
		Order("folder_id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to list folders: %w", err)
	}
	return folders, nil
}

// FoldersWithStats lists folders with the number of live entries in each.
func (d *DB) FoldersWithStats(ctx context.Context) ([]FolderWithStats, error) {
	folders, err := d.Folders(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]FolderWithStats, 0, len(folders))
	for _, f := range folders {
		n, err := d.bun.NewSelect().
			Model((*Entry)(nil)).
			Where("folder_id = ?", f.ID).
			Where("is_deleted = ?", false).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("store: failed to count entries: %w", err)
		}
		out = append(out, FolderWithStats{Folder: f, EntryCount: n})
	}
	return out, nil
}

// Entries lists the live entries of a folder.
func (d *DB) Entries(ctx context.Context, folderID int64) ([]Entry, error) {
	var entries []Entry
	if err := d.bun.NewSelect().
		Model(&entries).
		Where("folder_id = ?", folderID).
		Where("is_deleted = ?", false).
		Order("entry_id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to list entries: %w", err)
	}
	return entries, nil
}

// Sections returns the data sections of an entry.
func (d *DB) Sections(ctx context.Context, entryID int64) ([]EntryData, error) {
	var sections []EntryData
	if err := d.bun.NewSelect().
		Model(&sections).
		Where("entry_id = ?", entryID).
		Order("data_id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("store: failed to list entry data: %w", err)
	}
	return sections, nil
}

// WipeFolders drops every value held by a staged folder listing.
func WipeFolders(folders []Folder) {
	for i := range folders {
		folders[i] = Folder{}
	}
}

// WipeSections zeroes section content.
func WipeSections(sections []EntryData) {
	for i := range sections {
		for j := range sections[i].Data {
			sections[i].Data[j] = 0
		}
		sections[i] = EntryData{}
	}
}
