// Command devtoken prints a bearer token for local testing of the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/digkill/imagecredits/internal/auth"
	"github.com/digkill/imagecredits/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		log.Fatal("devtoken: -user is required")
	}

	cfg, err := config.LoadAuth()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	token, err := auth.NewAuthenticator(cfg.JWTSecret).GenerateToken(*userID, *ttl)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}
