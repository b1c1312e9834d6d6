// Package main implements the fluxbridge-users CLI for managing the user
// database the action gate authenticates against.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fluxbridge/fluxbridge/internal/auth"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "fluxbridge-users",
	Short: "Manage fluxbridge users",
	Long:  `fluxbridge-users manages the SQLite user database that the action gate authenticates against.`,
}

var addCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		firstName, _ := cmd.Flags().GetString("first-name")
		lastName, _ := cmd.Flags().GetString("last-name")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			return fmt.Errorf("--password is required")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u := auth.User{
			Username:  args[0],
			Email:     email,
			FirstName: firstName,
			LastName:  lastName,
		}
		if err := store.AddUser(context.Background(), u, password); err != nil {
			return err
		}
		fmt.Printf("user %q added\n", args[0])
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [username]",
	Short: "Show one user, or all users when no username is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var users []auth.User
		if len(args) == 1 {
			u, err := store.GetUser(context.Background(), args[0])
			if err != nil {
				return err
			}
			users = []auth.User{*u}
		} else {
			users, err = store.ListUsers(context.Background())
			if err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tEMAIL\tNAME\tSTATUS\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\n",
				u.Username, u.Email, u.FirstName, u.LastName, u.Status,
				u.CreateTime.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var changePasswordCmd = &cobra.Command{
	Use:   "change-password <username>",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			return fmt.Errorf("--password is required")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ChangePassword(context.Background(), args[0], password); err != nil {
			return err
		}
		fmt.Printf("password changed for %q\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Deactivate a user (or remove the row entirely with --hard)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hard, _ := cmd.Flags().GetBool("hard")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if hard {
			if err := store.DeleteUser(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("user %q removed\n", args[0])
			return nil
		}
		if err := store.SetStatus(context.Background(), args[0], auth.StatusInactive); err != nil {
			return err
		}
		fmt.Printf("user %q deactivated\n", args[0])
		return nil
	},
}

func openStore() (*auth.UserStore, error) {
	return auth.OpenUserStore(dbPath)
}

func init() {
	_ = godotenv.Load()
	defaultDB := os.Getenv("FLUXBRIDGE_AUTH_USER_DB")
	if defaultDB == "" {
		defaultDB = "./data/fluxbridge/users.db"
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "Path to the user database")

	addCmd.Flags().String("email", "", "Email address")
	addCmd.Flags().String("first-name", "", "First name")
	addCmd.Flags().String("last-name", "", "Last name")
	addCmd.Flags().String("password", "", "Password (required)")

	changePasswordCmd.Flags().String("password", "", "New password (required)")

	deleteCmd.Flags().Bool("hard", false, "Remove the row instead of deactivating")

	rootCmd.AddCommand(addCmd, showCmd, changePasswordCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
