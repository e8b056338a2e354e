package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sentinelr/devicesync/internal/service"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: TOKEN_SECRET=... go run scripts/mint-operator-token.go <user-id> <family-id> [expiry]\n")
		os.Exit(1)
	}

	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Error: TOKEN_SECRET is not set\n")
		os.Exit(1)
	}

	var expiry time.Duration
	if len(os.Args) > 3 {
		d, err := time.ParseDuration(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid expiry: %v\n", err)
			os.Exit(1)
		}
		expiry = d
	}

	token, err := service.NewTokenService(secret).IssueOperatorToken(os.Args[1], os.Args[2], expiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
