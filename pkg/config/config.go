// Package config resolves process settings from the environment and an
// optional .env file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ormasoftchile/stockpipe/pkg/openai"
)

// Environment variable names.
const (
	EnvAPIKey       = "OPENAI_API_KEY"
	EnvOrganization = "OPENAI_ORGANIZATION_ID"
	EnvBaseURL      = "OPENAI_BASE_URL"
	EnvModel        = "OPENAI_MODEL"
	EnvMaxRetries   = "OPENAI_MAX_RETRIES"
	EnvLogLevel     = "STOCKPIPE_LOG_LEVEL"
	EnvLogFormat    = "STOCKPIPE_LOG_FORMAT"
)

// Settings is the resolved process configuration.
type Settings struct {
	APIKey       string
	Organization string
	BaseURL      string
	Model        string
	MaxRetries   int
	LogLevel     string
	LogFormat    string
}

// FromEnv reads Settings through getenv, applying defaults.
func FromEnv(getenv func(string) string) (Settings, error) {
	s := Settings{
		APIKey:       getenv(EnvAPIKey),
		Organization: getenv(EnvOrganization),
		BaseURL:      getenv(EnvBaseURL),
		Model:        getenv(EnvModel),
		MaxRetries:   3,
		LogLevel:     getenv(EnvLogLevel),
		LogFormat:    getenv(EnvLogFormat),
	}
	if v := getenv(EnvMaxRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return s, fmt.Errorf("%s: want a non-negative integer, got %q", EnvMaxRetries, v)
		}
		s.MaxRetries = n
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "text"
	}
	return s, nil
}

// Load applies .env (if present) and reads Settings from the process
// environment.
func Load(dotenv string) (Settings, error) {
	if err := LoadDotEnv(dotenv); err != nil {
		return Settings{}, err
	}
	return FromEnv(os.Getenv)
}

// ErrNoAPIKey is returned when a live chat client is requested without a key.
var ErrNoAPIKey = errors.New(EnvAPIKey + " is not set")

// OpenAI returns client configuration for the chat collaborator.
func (s Settings) OpenAI() (openai.Config, error) {
	if s.APIKey == "" {
		return openai.Config{}, ErrNoAPIKey
	}
	return openai.Config{
		APIKey:       s.APIKey,
		Organization: s.Organization,
		BaseURL:      s.BaseURL,
		Model:        s.Model,
		MaxRetries:   s.MaxRetries,
		BaseDelay:    500 * time.Millisecond,
	}, nil
}

// Secrets lists values that must never appear in traces.
func (s Settings) Secrets() []string {
	if s.APIKey == "" {
		return nil
	}
	return []string{s.APIKey}
}

// LoadDotEnv sets variables from path that aren't already set in the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	vars, err := ParseDotEnv(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, kv := range vars {
		if _, ok := os.LookupEnv(kv[0]); !ok {
			os.Setenv(kv[0], kv[1])
		}
	}
	return nil
}

// ParseDotEnv reads KEY=VALUE lines in file order. Blank lines, comments
// and lines without '=' are skipped; one layer of matching quotes is
// removed from values.
func ParseDotEnv(r io.Reader) ([][2]string, error) {
	var out [][2]string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if key != "" {
			out = append(out, [2]string{key, val})
		}
	}
	return out, scanner.Err()
}
