package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	cmd.AddCommand(newAdminAddCmd(a))
	return cmd
}

func newAdminAddCmd(a *app) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := a.cfg.openServer(cmd.Context())
			if err != nil {
				return err
			}
			defer server.Close()

			admin, err := server.Admins().Register(cmd.Context(), name, email, password)
			if err != nil {
				return fmt.Errorf("register admin: %w", err)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created admin %s <%s> (%s)\n", admin.Name, admin.Email, admin.ID)
			return err
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&password, "password", "", "password (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
