package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/maloquacious/userbook/internal/store"
	"github.com/spf13/cobra"
)

func newUsersCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List and add users",
	}
	usersCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print users as JSON")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			repo, err := rt.ready(cmd.Context())
			if err != nil {
				return err
			}
			users, err := repo.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return printUsers(cmd.OutOrStdout(), users, asJSON)
		},
	}

	addCmd := &cobra.Command{
		Use:   "add NAME AGE EMAIL",
		Short: "Add a user and print the updated list",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			repo, err := rt.ready(cmd.Context())
			if err != nil {
				return err
			}
			users, err := repo.AddUser(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printUsers(cmd.OutOrStdout(), users, asJSON)
		},
	}

	usersCmd.AddCommand(listCmd, addCmd)
	return usersCmd
}

func printUsers(w io.Writer, users []store.User, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(users)
	}
	if len(users) == 0 {
		_, err := fmt.Fprintln(w, "no users found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAGE\tEMAIL")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", u.ID, u.Name, u.Age, u.Email)
	}
	return tw.Flush()
}
