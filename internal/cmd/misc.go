package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// whoamiCmd prints the authenticated user.
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		user, err := newAPIClient(newTokenStore()).CurrentUser(ctx)
		if err != nil {
			return err
		}
		if user.Name != "" {
			fmt.Printf("%s <%s>\n", user.Name, user.Email)
		} else {
			fmt.Println(user.Email)
		}
		return nil
	},
}

// healthCmd checks the backend.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the counselor backend health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		h, err := newAPIClient(newTokenStore()).Health(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s", cfg.BackendURL, h.Status)
		if h.Message != "" {
			fmt.Printf(" (%s)", h.Message)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(healthCmd)
}
