package main

import (
	"github.com/spf13/cobra"

	"smr/internal/linkage"
)

func newMapCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "map <upload_id> <submitted_name> <artist_id>",
		Short: "Bind a submitted artist name to a canonical artist",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploadID, err := parseID(args[0])
			if err != nil {
				return err
			}
			artistID, err := parseID(args[2])
			if err != nil {
				return err
			}
			operator, err := opts.requireOperator()
			if err != nil {
				return err
			}

			s, err := opts.open()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.Resolver.ApplyOverride(cmd.Context(), linkage.Override{
				UploadID:      uploadID,
				SubmittedName: args[1],
				ArtistID:      artistID,
				VerifiedBy:    operator,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}
