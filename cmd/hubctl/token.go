package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/templatehub/pkg/crypto"
	"github.com/splax/templatehub/pkg/jwt"
)

var (
	issueUserID   string
	issueUsername string
	issueTTL      time.Duration
	issueStore    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Operator helpers for session tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a session token from a GitHub access token",
	Long: `Seals a GitHub access token with TOKEN_ENCRYPTION_KEY and signs a session
token with JWT_SECRET, the same way the web sign-in does. Both secrets are
read from the environment.`,
	RunE: runTokenIssue,
}

func init() {
	tokenIssueCmd.Flags().StringVar(&issueUserID, "user-id", "", "User identifier recorded on deployments")
	tokenIssueCmd.Flags().StringVar(&issueUsername, "username", "", "GitHub username")
	tokenIssueCmd.Flags().DurationVar(&issueTTL, "ttl", 24*time.Hour, "Session lifetime")
	tokenIssueCmd.Flags().BoolVar(&issueStore, "login", false, "Store the issued token as the current session")
	_ = tokenIssueCmd.MarkFlagRequired("username")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	key := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if secret == "" || strings.TrimSpace(key) == "" {
		return errors.New("JWT_SECRET and TOKEN_ENCRYPTION_KEY must be set")
	}
	userID := strings.TrimSpace(issueUserID)
	if userID == "" {
		userID = issueUsername
	}

	githubToken := strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	if githubToken == "" {
		var err error
		if githubToken, err = readSecret("GitHub access token: "); err != nil {
			return err
		}
	}
	if githubToken == "" {
		return errors.New("GitHub access token cannot be empty")
	}

	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		return err
	}
	handle, err := cipher.Encrypt(githubToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	session, err := jwt.GenerateToken(userID, issueUsername, handle, secret, issueTTL)
	if err != nil {
		return err
	}
	if issueStore {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := storeSession(&cfg, issueUsername, session); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "session stored")
	}
	fmt.Println(session)
	return nil
}
