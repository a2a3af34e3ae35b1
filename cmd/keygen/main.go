package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
	"github.com/walletcore/backend/internal/database"
	"github.com/walletcore/backend/internal/services"
)

// keygen mints or revokes API keys for the wallet API. The full credential
// is printed exactly once at mint time; only its hash is stored.
func main() {
	owner := flag.String("owner", "", "owner name for the new API key")
	expires := flag.Duration("expires", 0, "key lifetime, e.g. 720h (0 = never expires)")
	revoke := flag.String("revoke", "", "key_id to revoke instead of minting")
	flag.Parse()

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	// Revocation must also drop the server's cached verification.
	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gate := services.NewAccessGate(db, redisClient)
	ctx := context.Background()

	switch {
	case *revoke != "":
		if err := gate.RevokeKey(ctx, *revoke); err != nil {
			log.Fatalf("Failed to revoke key %s: %v", *revoke, err)
		}
		fmt.Printf("Key %s revoked\n", *revoke)
	case *owner != "":
		credential, err := gate.IssueKey(ctx, *owner, *expires)
		if err != nil {
			log.Fatalf("Failed to issue key: %v", err)
		}
		if *expires > 0 {
			fmt.Printf("API key created, valid until %s. Store it now; it will not be shown again.\n",
				time.Now().Add(*expires).UTC().Format(time.RFC3339))
		} else {
			fmt.Println("API key created. Store it now; it will not be shown again.")
		}
		fmt.Printf("X-API-Key: %s\n", credential)
	default:
		flag.Usage()
	}
}
