package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/virgo-archive/tapir/internal/logger"
)

// NewLoginCmd creates the login command.
func NewLoginCmd() *cobra.Command {
	var (
		service  string
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against a configured service",
		Long: `Authenticate against a configured service and keep the session for
subsequent commands. The password is prompted for when not given; prefer
the prompt, flags end up in shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, service)
			if err != nil {
				return err
			}

			if username == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Username: ")
				if _, err := fmt.Fscanln(cmd.InOrStdin(), &username); err != nil {
					return fmt.Errorf("could not read username: %w", err)
				}
			}
			if password == "" {
				pw, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				password = pw
			}

			session, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			logger.Info("Logged in", logger.Fields{"service": service, "auth": session.AuthType()})
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s as %s\n", service, username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (required)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name (prompted when omitted)")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("service")

	return cmd
}

// promptPassword reads the password without echo when stdin is a terminal and
// falls back to a plain line read otherwise (piped input in tests).
func promptPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("could not read password: %w", err)
		}
		return string(raw), nil
	}
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", fmt.Errorf("could not read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// NewLogoutCmd creates the logout command.
func NewLogoutCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, service)
			if err != nil {
				return err
			}
			if err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", service)
			return nil
		},
	}

	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (required)")
	_ = cmd.MarkFlagRequired("service")

	return cmd
}
