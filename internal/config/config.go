// Package config provides configuration management for msirepo
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Provider defines the interface for configuration providers.
type Provider interface {
	// GetConfig returns the current application configuration.
	GetConfig() *Settings
	// SetConfig sets the application configuration.
	SetConfig(c *Settings)
	// InitConfig initializes the application configuration.
	InitConfig() (*Settings, error)
	// SetConfigFilePath sets the configuration file path.
	SetConfigFilePath(p string)
}

// Default configuration values for msirepo.
// The publish directories are derived from DefaultPublishDir unless
// overridden individually.
const (
	DefaultDBPath          = "/var/lib/msirepo/msirepo.db"
	DefaultStorageDir      = "/var/lib/msirepo/content"
	DefaultWorkingDir      = "/var/cache/msirepo/work"
	DefaultPublishDir      = "/var/lib/msirepo/published/win"
	DefaultStateFile       = "/var/lib/msirepo/state.json"
	DefaultChecksumType    = "sha256"
	DefaultNumThreads      = 5
	DefaultDownloadTimeout = 5 * time.Minute
	DefaultMsiinfoPath     = "/usr/bin/msiinfo"
	DefaultVerbose         = false
	DefaultServeHTTP       = false
	DefaultServeHTTPS      = true
)

// Repository is a repository declared in the configuration file. Declared
// repositories are registered in the database on startup.
type Repository struct {
	ID              string   `yaml:"id"`
	DisplayName     string   `yaml:"displayName,omitempty"`
	Feeds           []string `yaml:"feeds,omitempty"`
	RelativeURL     string   `yaml:"relativeUrl,omitempty"`
	HTTP            bool     `yaml:"http"`
	HTTPS           bool     `yaml:"https"`
	HTTPPublishDir  string   `yaml:"httpPublishDir,omitempty"`
	HTTPSPublishDir string   `yaml:"httpsPublishDir,omitempty"`
}

// Settings represents the configuration for msirepo.
type Settings struct {
	DBPath          string        `yaml:"dbPath"`
	StorageDir      string        `yaml:"storageDir"`
	WorkingDir      string        `yaml:"workingDir"`
	PublishDir      string        `yaml:"publishDir"`
	MasterDir       string        `yaml:"masterDir,omitempty"`
	HTTPPublishDir  string        `yaml:"httpPublishDir,omitempty"`
	HTTPSPublishDir string        `yaml:"httpsPublishDir,omitempty"`
	StateFile       string        `yaml:"stateFile"`
	ChecksumType    string        `yaml:"checksumType"`
	NumThreads      int           `yaml:"numThreads"`
	DownloadTimeout time.Duration `yaml:"downloadTimeout"`
	MsiinfoPath     string        `yaml:"msiinfoPath"`
	Verbose         bool          `yaml:"verbose"`
	Repositories    []Repository  `yaml:"repositories"`
}

// GetMasterDir returns the directory that holds published generations.
func (s *Settings) GetMasterDir() string {
	if s.MasterDir != "" {
		return s.MasterDir
	}
	return filepath.Join(s.PublishDir, "master")
}

// GetHTTPPublishDir returns the root under which HTTP repositories are linked.
func (s *Settings) GetHTTPPublishDir() string {
	if s.HTTPPublishDir != "" {
		return s.HTTPPublishDir
	}
	return filepath.Join(s.PublishDir, "http", "repos")
}

// GetHTTPSPublishDir returns the root under which HTTPS repositories are linked.
func (s *Settings) GetHTTPSPublishDir() string {
	if s.HTTPSPublishDir != "" {
		return s.HTTPSPublishDir
	}
	return filepath.Join(s.PublishDir, "https", "repos")
}

// Defaults returns Settings populated with default values.
func Defaults() *Settings {
	return &Settings{
		DBPath:          DefaultDBPath,
		StorageDir:      DefaultStorageDir,
		WorkingDir:      DefaultWorkingDir,
		PublishDir:      DefaultPublishDir,
		StateFile:       DefaultStateFile,
		ChecksumType:    DefaultChecksumType,
		NumThreads:      DefaultNumThreads,
		DownloadTimeout: DefaultDownloadTimeout,
		MsiinfoPath:     DefaultMsiinfoPath,
		Verbose:         DefaultVerbose,
	}
}

// defaultConfigProvider implements the Provider interface on its own viper
// instance.
type defaultConfigProvider struct {
	v   *viper.Viper
	cfg *Settings
}

// NewDefaultConfigProvider creates a new default config provider.
func NewDefaultConfigProvider() Provider {
	return &defaultConfigProvider{v: viper.New()}
}

func (p *defaultConfigProvider) SetConfig(c *Settings) {
	p.cfg = c
}

func (p *defaultConfigProvider) GetConfig() *Settings {
	return p.cfg
}

func (p *defaultConfigProvider) SetConfigFilePath(path string) {
	p.v.SetConfigFile(path)
}

func (p *defaultConfigProvider) InitConfig() (*Settings, error) {
	cfg := Defaults()
	v := p.v

	v.SetDefault("dbPath", DefaultDBPath)
	v.SetDefault("storageDir", DefaultStorageDir)
	v.SetDefault("workingDir", DefaultWorkingDir)
	v.SetDefault("publishDir", DefaultPublishDir)
	v.SetDefault("stateFile", DefaultStateFile)
	v.SetDefault("checksumType", DefaultChecksumType)
	v.SetDefault("numThreads", DefaultNumThreads)
	v.SetDefault("downloadTimeout", DefaultDownloadTimeout)
	v.SetDefault("msiinfoPath", DefaultMsiinfoPath)
	v.SetDefault("verbose", DefaultVerbose)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(os.ExpandEnv("$HOME/.config/msirepo"))
	v.AddConfigPath("/etc/msirepo")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MSIREPO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	p.cfg = cfg
	return cfg, nil
}

// ConfigFileUsed reports the configuration file viper loaded, if any.
func ConfigFileUsed(p Provider) string {
	if dp, ok := p.(*defaultConfigProvider); ok {
		return dp.v.ConfigFileUsed()
	}
	return ""
}
