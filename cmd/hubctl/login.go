package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/splax/templatehub/pkg/api/client"
)

var (
	loginUsername string
	loginToken    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a session token issued by the Template Hub sign-in",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := clearSession(&cfg); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "GitHub username the session belongs to")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Session token (prompted when omitted)")
	_ = loginCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(loginUsername)
	if username == "" {
		return errors.New("--username is required")
	}
	token := strings.TrimSpace(loginToken)
	if token == "" {
		var err error
		if token, err = readSecret("Session token: "); err != nil {
			return err
		}
	}
	if token == "" {
		return errors.New("session token cannot be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if _, err := client.ListDeployments(ctx, token, 1); err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	if err := storeSession(&cfg, username, token); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}
