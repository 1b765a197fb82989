package server

import (
	"time"

	"github.com/rs/zerolog"

	"secure-notes/internal/auth"
	cr "secure-notes/internal/crypto"
)

type Config struct {
	JWTIssuer string
	TokenTTL  time.Duration
	// MasterKey seals stored auth keys. A random key is used when empty,
	// which only suits in-memory account stores.
	MasterKey []byte

	// DecoyParams are handed out at pre-login for unknown usernames and
	// should match what clients use for real accounts.
	DecoyParams cr.PasswordParams

	PoWDifficulty    int
	PoWMaxDifficulty int
	PoWWindow        time.Duration
	ChallengeTTL     time.Duration

	// LegacyUsernames belong to accounts that predate end-to-end encryption;
	// logging in as one reports a possible conversion.
	LegacyUsernames []string

	MongoURI           string
	MongoDB            string
	AccountsCollection string
	// Accounts overrides the store selected by MongoURI.
	Accounts auth.AccountStore

	Logger zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.JWTIssuer == "" {
		c.JWTIssuer = "notesd"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = time.Hour
	}
	if c.DecoyParams.Algorithm == "" {
		c.DecoyParams = cr.DefaultPasswordParams()
	}
	if c.PoWDifficulty <= 0 {
		c.PoWDifficulty = 12
	}
	if c.PoWMaxDifficulty < c.PoWDifficulty {
		c.PoWMaxDifficulty = c.PoWDifficulty + 12
	}
	if c.PoWWindow <= 0 {
		c.PoWWindow = time.Minute
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 2 * time.Minute
	}
	if c.MongoDB == "" {
		c.MongoDB = "notes"
	}
	if c.AccountsCollection == "" {
		c.AccountsCollection = "accounts"
	}
}
