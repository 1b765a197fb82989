// Package config loads client and server settings from an optional file and
// NOTES_* environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"secure-notes/internal/client"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/lock"
	"secure-notes/internal/logging"
	"secure-notes/internal/server"
	"secure-notes/internal/session"
	"secure-notes/internal/tree"
)

const EnvPrefix = "NOTES"

type Config struct {
	Client  ClientConfig   `mapstructure:"client"`
	Cache   CacheConfig    `mapstructure:"cache"`
	Log     logging.Config `mapstructure:"log"`
	History HistoryConfig  `mapstructure:"history"`
	Session SessionConfig  `mapstructure:"session"`
	Server  ServerConfig   `mapstructure:"server"`
}

type ClientConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	SealRequests      bool          `mapstructure:"seal_requests"`
	KDF               KDFConfig     `mapstructure:"kdf"`
}

// KDFConfig seeds password hashing for new accounts and password changes.
type KDFConfig struct {
	Algorithm   string `mapstructure:"algorithm"`
	Iterations  uint32 `mapstructure:"iterations"`
	Memory      uint32 `mapstructure:"memory"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

type CacheConfig struct {
	// Backend is one of none, memory, file, sqlite or mongo.
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MongoURI   string `mapstructure:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"`
	MongoColl  string `mapstructure:"mongo_collection"`
}

type HistoryConfig struct {
	// MaxEntries bounds each note's history; 0 keeps everything.
	MaxEntries int `mapstructure:"max_entries"`
}

type SessionConfig struct {
	MaterialTTL      time.Duration `mapstructure:"material_ttl"`
	WriterPreference bool          `mapstructure:"writer_preference"`
}

type ServerConfig struct {
	Addr               string        `mapstructure:"addr"`
	JWTIssuer          string        `mapstructure:"jwt_issuer"`
	TokenTTL           time.Duration `mapstructure:"token_ttl"`
	PoWDifficulty      int           `mapstructure:"pow_difficulty"`
	LegacyUsernames    []string      `mapstructure:"legacy_usernames"`
	MasterKey          string        `mapstructure:"master_key"` // hex
	MongoURI           string        `mapstructure:"mongo_uri"`
	MongoDB            string        `mapstructure:"mongo_db"`
	AccountsCollection string        `mapstructure:"accounts_collection"`
}

func setDefaults(v *viper.Viper) {
	dir := "."
	if d, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(d, "secure-notes")
	}
	def := cr.DefaultPasswordParams()

	v.SetDefault("client.base_url", "http://127.0.0.1:8080")
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.requests_per_second", 20)
	v.SetDefault("client.burst", 40)
	v.SetDefault("client.seal_requests", false)
	v.SetDefault("client.kdf.algorithm", def.Algorithm)
	v.SetDefault("client.kdf.iterations", def.Iterations)
	v.SetDefault("client.kdf.memory", def.Memory)
	v.SetDefault("client.kdf.parallelism", def.Parallelism)

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", filepath.Join(dir, "blobs"))
	v.SetDefault("cache.sqlite_path", filepath.Join(dir, "cache.db"))
	v.SetDefault("cache.mongo_uri", "")
	v.SetDefault("cache.mongo_db", "notes")
	v.SetDefault("cache.mongo_collection", "cache")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("history.max_entries", 0)

	v.SetDefault("session.material_ttl", session.DefaultMaterialTTL)
	v.SetDefault("session.writer_preference", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_issuer", "notesd")
	v.SetDefault("server.token_ttl", time.Hour)
	v.SetDefault("server.pow_difficulty", 12)
	v.SetDefault("server.legacy_usernames", []string{})
	v.SetDefault("server.master_key", "")
	v.SetDefault("server.mongo_uri", "")
	v.SetDefault("server.mongo_db", "notes")
	v.SetDefault("server.accounts_collection", "accounts")
}

// Load reads path (any format viper understands) when it is non-empty, then
// applies NOTES_* overrides, e.g. NOTES_CLIENT_BASE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case BackendNone, BackendMemory, BackendFile, BackendSQLite, BackendMongo:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == BackendMongo && c.Cache.MongoURI == "" {
		return errors.New("config: cache.mongo_uri is required for the mongo backend")
	}
	if c.Server.MasterKey != "" {
		if _, err := hex.DecodeString(c.Server.MasterKey); err != nil {
			return fmt.Errorf("config: server.master_key: %w", err)
		}
	}
	return nil
}

// ClientConfig converts the client section. The cache is opened separately
// with OpenCache.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:           c.Client.BaseURL,
		Timeout:           c.Client.Timeout,
		RequestsPerSecond: c.Client.RequestsPerSecond,
		Burst:             c.Client.Burst,
		SealRequests:      c.Client.SealRequests,
		Params: cr.PasswordParams{
			Algorithm:   c.Client.KDF.Algorithm,
			Iterations:  c.Client.KDF.Iterations,
			Memory:      c.Client.KDF.Memory,
			Parallelism: c.Client.KDF.Parallelism,
		},
	}
}

func (c *Config) TreeConfig() tree.Config {
	var opts []lock.Option
	if c.Session.WriterPreference {
		opts = append(opts, lock.WithWriterPreference())
	}
	return tree.Config{MaxHistory: c.History.MaxEntries, Lock: lock.New(opts...)}
}

func (c *Config) ServerConfig() server.Config {
	key, _ := hex.DecodeString(c.Server.MasterKey)
	return server.Config{
		JWTIssuer:          c.Server.JWTIssuer,
		TokenTTL:           c.Server.TokenTTL,
		MasterKey:          key,
		DecoyParams:        c.ClientConfig().Params,
		PoWDifficulty:      c.Server.PoWDifficulty,
		LegacyUsernames:    c.Server.LegacyUsernames,
		MongoURI:           c.Server.MongoURI,
		MongoDB:            c.Server.MongoDB,
		AccountsCollection: c.Server.AccountsCollection,
	}
}
