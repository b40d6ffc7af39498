package main

import (
	"github.com/spf13/cobra"

	"smr/internal/services"
)

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API accounts",
	}
	cmd.AddCommand(newUserCreateCmd(opts))
	return cmd
}

func newUserCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		email    string
		password string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a reviewer or admin account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dbManager, _, err := opts.connect()
			if err != nil {
				return err
			}
			defer dbManager.Close()

			auth := services.NewAuthService(dbManager.GetGormDB(), cfg.JWT.Secret, cfg.JWT.AccessExpiry)
			user, err := auth.CreateUser(cmd.Context(), args[0], email, password, admin)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), user)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant admin rights")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
