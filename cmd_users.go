package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-client/library"
)

func usersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts (admin)",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every verified account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.mgr.Store().Users
			if err := s.FetchAll(cmd.Context()); err != nil {
				return err
			}
			users := s.State().Data
			if len(users) == 0 {
				fmt.Fprintln(a.out, "No users.")
				return nil
			}
			fmt.Fprintf(a.out, "%-24s %-24s %-30s %-6s %-10s\n", "ID", "Name", "Email", "Role", "Joined")
			fmt.Fprintln(a.out, strings.Repeat("-", 98))
			for _, u := range users {
				fmt.Fprintf(a.out, "%-24s %-24s %-30s %-6s %-10s\n",
					truncateString(u.ID, 24),
					truncateString(u.Name, 24),
					truncateString(u.Email, 30),
					u.Role,
					formatDate(&u.CreatedAt),
				)
			}
			return nil
		},
	}

	var in library.AdminInput
	addAdmin := &cobra.Command{
		Use:   "add-admin",
		Short: "Create another admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if in.Name, err = a.valueOrPrompt(in.Name, "Name: "); err != nil {
				return err
			}
			if in.Email, err = a.valueOrPrompt(in.Email, "Email: "); err != nil {
				return err
			}
			if in.Password, err = a.readPassword("Password (8-16 characters): "); err != nil {
				return err
			}
			_, err = a.mgr.Store().Users.AddAdmin(cmd.Context(), in)
			return err
		},
	}
	addAdmin.Flags().StringVar(&in.Name, "name", "", "full name")
	addAdmin.Flags().StringVar(&in.Email, "email", "", "email address")

	cmd.AddCommand(list, addAdmin)
	return cmd
}
