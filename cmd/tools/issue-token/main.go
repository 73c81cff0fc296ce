// Command issue-token prints a signed session token for an account. It reads
// the same configuration as the server so the secret and issuer match.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"livego/internal/auth"
	"livego/internal/config"
)

func main() {
	var (
		configPath string
		accountID  string
		name       string
		ttl        time.Duration
	)

	flag.StringVar(&configPath, "config", os.Getenv("LIVEGO_CONFIG"), "path to a YAML configuration file")
	flag.StringVar(&accountID, "account", "", "Account id placed in the token subject")
	flag.StringVar(&name, "name", "", "Display name claim")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime, defaults to auth.token_ttl")
	flag.Parse()

	if strings.TrimSpace(accountID) == "" {
		fatalf("--account is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	token, expiresAt, err := issue(cfg.Auth, accountID, name, ttl)
	if err != nil {
		fatalf("issue token: %v", err)
	}
	fmt.Fprintf(os.Stderr, "token for %s expires at %s\n", accountID, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}

func issue(cfg config.AuthConfig, accountID, name string, ttl time.Duration) (string, time.Time, error) {
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, auth.WithIssuer(cfg.Issuer), auth.WithTTL(ttl))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokens.Issue(strings.TrimSpace(accountID), strings.TrimSpace(name))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
