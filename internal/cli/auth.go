package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chargeamps/pkg/eapi"
	"chargeamps/pkg/output"
)

// authResult is the outcome of a successful login
type authResult struct {
	Email          string    `json:"email"`
	BaseURL        string    `json:"baseUrl"`
	HasRefresh     bool      `json:"hasRefreshToken"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitempty"`
}

func (r authResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Authenticated as: %s\n", r.Email)
	fmt.Fprintf(w, "Endpoint:         %s\n", r.BaseURL)
	fmt.Fprintf(w, "Refresh token:    %t\n", r.HasRefresh)
	if r.TokenExpiresAt.IsZero() {
		_, err := fmt.Fprintln(w, "Token expiry:     unknown (opaque token)")
		return err
	}
	_, err := fmt.Fprintf(w, "Token expires:    %s (in %v)\n",
		r.TokenExpiresAt.Local().Format("2006-01-02 15:04:05"),
		time.Until(r.TokenExpiresAt).Round(time.Second))
	return err
}

func newAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Log in to the eAPI and show the token status",
		Long: `Logs in with the configured credentials. When CHARGEAMPS_PASSWORD is not set
and stdin is a terminal the password is prompted for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := output.GetFormatFromCmd(cmd)
			if err != nil {
				return err
			}

			if a.cfg.ChargeAmps.Email == "" {
				return errors.New("missing credentials: CHARGEAMPS_EMAIL")
			}
			if a.cfg.ChargeAmps.Password == "" {
				password, err := promptPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				a.cfg.ChargeAmps.Password = password
			}

			auth := eapi.NewAuthClient(a.cfg.ClientConfig(), a.cfg.Credentials())
			if err := auth.Login(cmd.Context()); err != nil {
				return err
			}

			tokens, _ := auth.Tokens()
			formatter := output.New(format)
			formatter.SetWriter(cmd.OutOrStdout())
			return formatter.Output(authResult{
				Email:          a.cfg.ChargeAmps.Email,
				BaseURL:        a.cfg.ChargeAmps.BaseURL,
				HasRefresh:     tokens.RefreshToken != "",
				TokenExpiresAt: tokens.ExpiresAt,
			})
		},
	}
	output.AddFormatFlag(checkCmd)

	cmd.AddCommand(checkCmd)
	return cmd
}

func promptPassword(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("missing credentials: CHARGEAMPS_PASSWORD")
	}

	fmt.Fprint(prompt, "Password: ")
	passwordBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passwordBytes), nil
}
