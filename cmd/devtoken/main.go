// Command devtoken prints a signed join token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Tyrowin/roomchat/internal/auth"
)

func main() {
	userID := flag.String("user", "", "user id to embed in the token")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to $JWT_SECRET)")
	issuer := flag.String("issuer", os.Getenv("JWT_ISSUER"), "issuer claim")
	audience := flag.String("audience", os.Getenv("JWT_AUDIENCE"), "audience claim")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	verifier, err := auth.NewVerifier(auth.Config{Secret: *secret, Issuer: *issuer, Audience: *audience})
	if err != nil {
		log.Fatalf("Failed to create signer: %v", err)
	}

	token, err := verifier.Issue(*userID, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
