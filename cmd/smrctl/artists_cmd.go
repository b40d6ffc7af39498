package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"smr/internal/database"
)

func newArtistsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artists",
		Short: "Manage the canonical artist directory",
	}
	cmd.AddCommand(newArtistsImportCmd(opts), newArtistsSearchCmd(opts))
	return cmd
}

func newArtistsImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add artists from a file with one name per line (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			names, err := readNames(r)
			if err != nil {
				return err
			}

			_, dbManager, _, err := opts.connect()
			if err != nil {
				return err
			}
			defer dbManager.Close()

			created, err := database.SeedArtists(dbManager.GetGormDB(), names)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]int{
				"read":    len(names),
				"created": created,
			})
		},
	}
}

func newArtistsSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find directory artists by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			artists, err := s.Store.Artists().Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), artists)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	return cmd
}

// readNames returns the non-blank lines of r
func readNames(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artist names: %w", err)
	}
	return names, nil
}
