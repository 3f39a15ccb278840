package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evalgrid/internal/session"
)

func loginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the bearer token",
		Long: `Exchange email and password for a token and remember it, along with the
tenant, in the session store. The password is read from stdin when --password
is not given.

Examples:
  evalgrid login --email director@example.com
  echo "$PW" | evalgrid login --email director@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			res, err := client.Login(ctx, strings.TrimSpace(email), password)
			if err != nil {
				return err
			}
			store, err := a.openSessions(ctx)
			if err != nil {
				return err
			}
			tenant := res.TenantID
			if a.cfg.TenantID != "" {
				tenant = a.cfg.TenantID
			}
			if err := store.Save(ctx, session.Session{
				Token:    res.Token,
				TenantID: tenant,
				Role:     a.cfg.Role,
				Email:    strings.TrimSpace(email),
			}); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s logged in to tenant %s\n", good("✓"), tenant)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default: read from stdin)")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openSessions(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s logged out\n", good("✓"))
			return nil
		},
	}
}
