package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"bizops/internal/auth"
	"bizops/pkg/config"
)

// devtoken prints a bearer token for an actor so the API can be called with curl.
func main() {
	var (
		actor  = flag.String("actor", "", "actor (user) id to put in the token subject")
		name   = flag.String("name", "", "display name claim (optional)")
		ttl    = flag.Duration("ttl", 0, "token lifetime (defaults to AUTH_TOKEN_TTL)")
		secret = flag.String("secret", "", "signing secret (defaults to AUTH_TOKEN_SECRET)")
	)
	flag.Parse()

	if *actor == "" {
		fmt.Fprintln(os.Stderr, "missing -actor")
		os.Exit(2)
	}

	cfg := config.Load()
	if *secret == "" {
		*secret = cfg.Auth.TokenSecret
	}
	if *secret == "" {
		fmt.Fprintln(os.Stderr, "missing -secret (or AUTH_TOKEN_SECRET in env/.env)")
		os.Exit(2)
	}
	if *ttl == 0 {
		*ttl = cfg.Auth.TokenTTL
	}

	tok, err := auth.NewTokens(*secret, cfg.Auth.TokenIssuer, *ttl).Issue(*actor, *name, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
