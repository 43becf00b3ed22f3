package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kbchat/internal/session"
)

var (
	loginUsername string
	loginPassword string

	registerUsername string
	registerEmail    string
	registerPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "account username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (prompted when omitted)")

	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "", "account username")
	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "", "account email")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "account password (prompted when omitted)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the knowledge service",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, err := promptIfEmpty(loginUsername, "Username: ")
		if err != nil {
			return err
		}
		password, err := promptIfEmpty(loginPassword, "Password: ")
		if err != nil {
			return err
		}

		if err := kb.session.Login(cmd.Context(), username, password); err != nil {
			if errors.Is(err, session.ErrInvalidCredentials) {
				return fmt.Errorf("invalid username or password")
			}
			return err
		}

		user, _ := kb.session.Current()
		color.Green("Logged in as %s <%s>", user.Username, user.Email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and log in",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, err := promptIfEmpty(registerUsername, "Username: ")
		if err != nil {
			return err
		}
		email, err := promptIfEmpty(registerEmail, "Email: ")
		if err != nil {
			return err
		}
		password, err := promptIfEmpty(registerPassword, "Password: ")
		if err != nil {
			return err
		}

		err = kb.session.Register(cmd.Context(), session.RegisterInput{
			Username: username,
			Email:    email,
			Password: password,
		})
		if err != nil {
			return err
		}

		user, _ := kb.session.Current()
		color.Green("Account created; logged in as %s", user.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		kb.session.Logout()
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		kb.session.Hydrate(cmd.Context())
		user, ok := kb.session.Current()
		if !ok {
			return fmt.Errorf("not logged in; run `kbchat login`")
		}
		fmt.Printf("%s <%s> (id %d)\n", user.Username, user.Email, user.ID)
		return nil
	},
}

// requireAuth resolves the identity and fails the command when no session
// exists. The commands are the "protected routes" of this client.
func requireAuth(cmd *cobra.Command) error {
	kb.session.Hydrate(cmd.Context())
	if !kb.session.Authenticated() {
		return fmt.Errorf("not logged in; run `kbchat login`")
	}
	return nil
}

func promptIfEmpty(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty input")
	}
	return line, nil
}
