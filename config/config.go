// Package config loads the stardag configuration file and materializes the
// target roots it declares.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/andhus/stardag/target"
	"github.com/andhus/stardag/target/s3"
)

const (
	envConfigPath  = "STARDAG_CONFIG"
	envDefaultRoot = "STARDAG_DEFAULT_ROOT"
	envRootURI     = "STARDAG_ROOT"
	envS3AccessKey = "STARDAG_S3_ACCESS_KEY"
	envS3SecretKey = "STARDAG_S3_SECRET_KEY"
)

// Config is the on-disk configuration. Roots maps a root key to a URI:
// a filesystem path, mem:// for an in-process store, or
// s3://bucket/prefix for an object store.
type Config struct {
	DefaultRoot string            `toml:"default_root"`
	Roots       map[string]string `toml:"roots"`
	Cache       CacheConfig       `toml:"cache"`
	S3          S3Config          `toml:"s3"`
}

// CacheConfig enables a read-through LRU in front of every backend.
// Entries is the cache capacity; zero disables caching.
type CacheConfig struct {
	Entries int `toml:"entries"`
}

// S3Config is the shared connection for all s3:// roots. Credentials are
// taken from the environment, never from the file.
type S3Config struct {
	Endpoint string `toml:"endpoint"`
	Region   string `toml:"region"`
	UseSSL   bool   `toml:"use_ssl"`
}

// Default returns the configuration used when no file exists: a single
// local root under the user's home directory.
func Default() *Config {
	return &Config{
		DefaultRoot: "default",
		Roots: map[string]string{
			"default": filepath.Join("~", ".stardag", "target-roots", "default"),
		},
	}
}

// Load reads the configuration, layering sources in increasing precedence:
// built-in defaults, a .env file when present, the TOML file, and finally
// STARDAG_* environment variables. An empty path falls back to
// STARDAG_CONFIG and then to stardag.toml in the working directory; a
// missing file is not an error.
func Load(path string) (*Config, error) {
	// Values already exported by the caller's environment win over .env.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		path = "stardag.toml"
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if v := os.Getenv(envDefaultRoot); v != "" {
		cfg.DefaultRoot = v
	}
	if v := os.Getenv(envRootURI); v != "" {
		if cfg.Roots == nil {
			cfg.Roots = map[string]string{}
		}
		cfg.Roots[cfg.DefaultRoot] = v
	}
	if cfg.DefaultRoot == "" {
		return nil, fmt.Errorf("config: default_root is empty")
	}
	if _, ok := cfg.Roots[cfg.DefaultRoot]; !ok {
		return nil, fmt.Errorf("config: default root %q has no URI", cfg.DefaultRoot)
	}
	return cfg, nil
}

// Factory builds a resolver per configured root. s3:// roots share the
// [s3] connection; every backend is wrapped in the LRU cache when one is
// configured.
func (c *Config) Factory() (*target.Factory, error) {
	resolvers := make(map[string]*target.Resolver, len(c.Roots))
	for key, uri := range c.Roots {
		root, backend, err := c.open(uri)
		if err != nil {
			return nil, fmt.Errorf("config: root %q: %w", key, err)
		}
		if c.Cache.Entries > 0 {
			backend, err = target.NewCached(backend, c.Cache.Entries)
			if err != nil {
				return nil, fmt.Errorf("config: root %q: %w", key, err)
			}
		}
		resolvers[key] = target.NewResolver(root, backend)
	}
	return target.NewFactory(c.DefaultRoot, resolvers)
}

func (c *Config) open(uri string) (root string, backend target.Backend, err error) {
	switch {
	case uri == "mem://":
		return "", target.NewMemory(), nil
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, _, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return "", nil, fmt.Errorf("no bucket in %q", uri)
		}
		b, err := s3.New(s3.Config{
			Endpoint:  c.S3.Endpoint,
			Region:    c.S3.Region,
			AccessKey: os.Getenv(envS3AccessKey),
			SecretKey: os.Getenv(envS3SecretKey),
			Bucket:    bucket,
			UseSSL:    c.S3.UseSSL,
		})
		if err != nil {
			return "", nil, err
		}
		return strings.TrimSuffix(uri, "/"), b, nil
	default:
		path, err := expandHome(uri)
		if err != nil {
			return "", nil, err
		}
		return path, target.NewLocal(), nil
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
