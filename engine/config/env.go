package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/WessleyAI/rollwin/engine/domain"
)

// Environment variables holding the engine connection.
const (
	EnvURI      = "NEO4J_URI"
	EnvUser     = "NEO4J_USER"
	EnvPassword = "NEO4J_PASSWORD"
	EnvDatabase = "NEO4J_DATABASE"
)

// LoadDotEnv loads files (default .env) into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return domain.NewConfigurationError("dotenv", f, err)
		}
	}
	return nil
}

// ApplyEnv fills connection fields left empty by the file and flags from the
// environment, then checks that every credential is present. It runs before
// any remote call so a missing credential aborts the run early.
func (c *Config) ApplyEnv() error {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	fill(&c.Engine.URI, EnvURI)
	fill(&c.Engine.User, EnvUser)
	fill(&c.Engine.Password, EnvPassword)
	fill(&c.Engine.Database, EnvDatabase)

	for _, kv := range [][2]string{
		{EnvURI, c.Engine.URI},
		{EnvUser, c.Engine.User},
		{EnvPassword, c.Engine.Password},
		{EnvDatabase, c.Engine.Database},
	} {
		if kv[1] == "" {
			return domain.Configf(kv[0], "", "missing engine credential")
		}
	}
	return nil
}
