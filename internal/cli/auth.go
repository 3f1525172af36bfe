package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"voltguard/internal/apiclient"
	"voltguard/internal/faults"
	"voltguard/internal/session"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Long: `Sign in with email and password. The session is stored locally and used by
every other command until logout.

When --password is omitted it is read from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := a.readLine()
				if err != nil {
					return err
				}
				password = line
			}
			s, err := a.client(nil).SignIn(cmd.Context(), apiclient.SignInRequest{Email: email, Password: password})
			if err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			return a.remember(cmd, s)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) signupCmd() *cobra.Command {
	var req apiclient.SignUpRequest
	var role string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Example: `  voltguard signup --email kavya@example.com --password s3cret! --name "Kavya R" --role consumer
  voltguard signup --email ravi@example.com --password s3cret! --name "Ravi K" --role electrician`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Role = faults.Role(role)
			if !req.Role.Valid() {
				return faults.Validationf("unknown role %q", role)
			}
			s, err := a.client(nil).SignUp(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("sign up: %w", err)
			}
			return a.remember(cmd, s)
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password")
	cmd.Flags().StringVar(&req.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", string(faults.RoleConsumer), "consumer, electrician or lineman")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "contact phone")
	for _, f := range []string{"email", "password", "name"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (a *app) remember(cmd *cobra.Command, s session.Session) error {
	if err := a.store.Save(cmd.Context(), s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", displayName(s.User), s.User.Role)
	return nil
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user as the backend sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			u, err := a.client(s).Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s <%s> %s id=%s\n", displayName(u), u.Email, u.Role, u.ID)
			return nil
		},
	}
}

func displayName(u session.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

func (a *app) readLine() (string, error) {
	sc := bufio.NewScanner(a.in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", faults.Validationf("no input")
	}
	return strings.TrimSpace(sc.Text()), nil
}
