package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/keylight/internal/cli"
	"github.com/forest6511/keylight/pkg/store"
	"github.com/forest6511/keylight/pkg/vault"
)

// Unlock flags
var (
	unlockJSON    bool
	unlockEntries bool
	unlockFolders []string
)

// folderView is the JSON shape of a folder listing line.
type folderView struct {
	Name    string `json:"name"`
	Icon    string `json:"icon"`
	Entries int    `json:"entries"`
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlocks the vault and lists its folders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if remaining := manager.RemainingCooldown(); remaining > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Too many failed attempts. Try again in %s\n", remaining.Round(time.Second))
		}

		password, err := newPasswordReader(cmd.InOrStdin(), cmd.ErrOrStderr()).Read("Enter master password: ")
		if err != nil {
			return err
		}

		s := manager.NewSession()
		if err := s.Login(cmd.Context(), password); err != nil {
			return err
		}
		defer s.Close()

		folders, err := s.FolderStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list folders: %w", err)
		}
		folders, err = cli.Filter(folders, func(f store.FolderWithStats) string { return f.Name }, unlockFolders)
		if err != nil {
			return err
		}
		if unlockEntries && !unlockJSON {
			return printEntries(cmd, s, folders)
		}
		return printFolders(cmd.OutOrStdout(), folders, unlockJSON)
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
	unlockCmd.Flags().BoolVar(&unlockJSON, "json", false, "Output as JSON")
	unlockCmd.Flags().BoolVar(&unlockEntries, "entries", false, "Also print each entry and its sections")
	unlockCmd.Flags().StringSliceVar(&unlockFolders, "folder", nil, "Only list folders matching these glob patterns")
}

func printFolders(w io.Writer, folders []store.FolderWithStats, asJSON bool) error {
	if asJSON {
		views := make([]folderView, 0, len(folders))
		for _, f := range folders {
			views = append(views, folderView{Name: f.Name, Icon: f.Icon, Entries: f.EntryCount})
		}
		output, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(output))
		return nil
	}

	if len(folders) == 0 {
		fmt.Fprintln(w, "No folders found.")
		return nil
	}
	for _, f := range folders {
		fmt.Fprintln(w, formatFolder(f))
	}
	return nil
}

// printEntries prints every folder followed by its entries and their
// sections. Section content is wiped once written.
func printEntries(cmd *cobra.Command, s *vault.Session, folders []store.FolderWithStats) error {
	w := cmd.OutOrStdout()
	if len(folders) == 0 {
		fmt.Fprintln(w, "No folders found.")
		return nil
	}
	for _, f := range folders {
		fmt.Fprintln(w, formatFolder(f))
		entries, err := s.Entries(cmd.Context(), f.ID)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		for _, e := range entries {
			fmt.Fprintf(w, "  %s\n", e.Name)
			sections, err := s.Sections(cmd.Context(), e.ID)
			if err != nil {
				return fmt.Errorf("failed to read entry %q: %w", e.Name, err)
			}
			for _, sec := range sections {
				fmt.Fprintf(w, "    %s: %s\n", sec.Name, sec.Data)
			}
			store.WipeSections(sections)
		}
	}
	return nil
}

func formatFolder(f store.FolderWithStats) string {
	switch f.EntryCount {
	case 1:
		return fmt.Sprintf("%s (1 entry)", f.Name)
	default:
		return fmt.Sprintf("%s (%d entries)", f.Name, f.EntryCount)
	}
}
