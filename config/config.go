package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSpaceName      = "ai-agent-langchain"
	DefaultFilePath       = "../web-scraper-agent/faiss_index.idx"
	DefaultUploadFileName = "faiss_index.idx"
	DefaultBackend        = "http"
	DefaultEndpoint       = "https://up.storacha.network/bridge"
	DefaultPollInterval   = 2 * time.Second

	// FileName is the per-user config file, relative to the home directory.
	FileName = ".upspace"
)

var backends = []string{"fs", "http", "memory"}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	d.Duration = parsed
	return nil
}

type Config struct {
	SpaceName      string   `json:"space"`
	FilePath       string   `json:"file"`
	UploadFileName string   `json:"name"`
	AccountEmail   string   `json:"email"`
	Backend        string   `json:"backend"`
	Endpoint       string   `json:"endpoint"`
	StorageDir     string   `json:"store"`
	LoginTimeout   Duration `json:"login_timeout"`
	PollInterval   Duration `json:"poll_interval"`
	Stream         bool     `json:"stream"`
	Encrypt        bool     `json:"encrypt"`
	Password       string   `json:"password"`
}

// Default returns the built-in configuration. AccountEmail has no default.
func Default() Config {
	return Config{
		SpaceName:      DefaultSpaceName,
		FilePath:       DefaultFilePath,
		UploadFileName: DefaultUploadFileName,
		Backend:        DefaultBackend,
		Endpoint:       DefaultEndpoint,
		StorageDir:     defaultStorageDir(),
		PollInterval:   Duration{DefaultPollInterval},
	}
}

func defaultStorageDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), "upspace")
	}

	return filepath.Join(home, ".upspace.d", "store")
}

// Path returns the location of the per-user config file.
func Path() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, FileName), nil
}

// Load overlays the JSON config file at path onto the defaults. A missing
// file is not an error.
func Load(path string) (Config, error) {
	config := Default()

	content, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}

		return config, err
	}

	if err := json.Unmarshal(content, &config); err != nil {
		return config, errors.Wrapf(err, "parse %s", path)
	}

	log.Debugf("Using config in %s.", path)
	return config, nil
}

// Validate checks the configuration and fills in derived values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SpaceName) == "" {
		return errors.New("space name is required")
	}

	for _, r := range c.SpaceName {
		if unicode.IsControl(r) {
			return fmt.Errorf("space name %q contains control characters", c.SpaceName)
		}
	}

	if c.FilePath == "" {
		return errors.New("file path is required")
	}

	if c.UploadFileName == "" && c.FilePath != "-" {
		c.UploadFileName = filepath.Base(c.FilePath)
	}

	if c.UploadFileName == "" || c.UploadFileName == "." || c.UploadFileName == ".." ||
		strings.ContainsAny(c.UploadFileName, "/\\\r\n") {
		return fmt.Errorf("upload file name must be a bare file name: %q", c.UploadFileName)
	}

	if c.AccountEmail == "" {
		return errors.New("account email is required")
	}

	if _, err := mail.ParseAddress(c.AccountEmail); err != nil {
		return errors.Wrapf(err, "invalid account email %q", c.AccountEmail)
	}

	if !c.knownBackend() {
		return fmt.Errorf("unknown backend \"%s\" (want one of %s)", c.Backend, strings.Join(backends, ", "))
	}

	if c.Backend == "http" {
		endpoint, err := url.Parse(c.Endpoint)
		if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
			return fmt.Errorf("endpoint must be an http(s) URL: \"%s\"", c.Endpoint)
		}
	}

	if c.Backend == "fs" && c.StorageDir == "" {
		return errors.New("storage directory is required for the fs backend")
	}

	if c.LoginTimeout.Duration < 0 || c.PollInterval.Duration < 0 {
		return errors.New("durations must not be negative")
	}

	return nil
}

func (c *Config) knownBackend() bool {
	for _, backend := range backends {
		if c.Backend == backend {
			return true
		}
	}
	return false
}
