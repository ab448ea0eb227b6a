// Package distributor validates publish configuration and publishes
// repositories as browsable trees.
package distributor

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/trly/msirepo/internal/db"
	"github.com/trly/msirepo/internal/log"
)

// Configuration keys.
const (
	KeyRelativeURL     = "relative_url"
	KeyHTTP            = "http"
	KeyHTTPS           = "https"
	KeyHTTPPublishDir  = "http_publish_dir"
	KeyHTTPSPublishDir = "https_publish_dir"
)

var (
	requiredKeys = []string{KeyHTTP, KeyHTTPS, KeyRelativeURL}
	optionalKeys = []string{KeyHTTPPublishDir, KeyHTTPSPublishDir}
)

// Registry finds repositories already published under a relative path.
type Registry interface {
	FindRepositoriesByRelativePath(ctx context.Context, path, excludeID string) ([]db.Repository, error)
}

// Validator checks prospective distributor configurations.
type Validator struct {
	registry Registry
	logger   log.Logger
}

// NewValidator creates a Validator. A nil registry skips the relative path
// conflict check.
func NewValidator(registry Registry, logger log.Logger) *Validator {
	return &Validator{registry: registry, logger: logger}
}

// Validate checks cfg, the flattened configuration of repository repoID.
// Every rule is evaluated; the returned message lists each problem on its
// own line and is empty when cfg is valid.
func (v *Validator) Validate(ctx context.Context, repoID string, cfg map[string]any) (bool, string) {
	var msgs []string

	for _, key := range requiredKeys {
		if _, ok := cfg[key]; !ok {
			msgs = append(msgs, fmt.Sprintf("Configuration key [%s] is required, but was not provided", key))
		}
	}

	configured := make([]string, 0, len(cfg))
	for key := range cfg {
		configured = append(configured, key)
	}
	slices.Sort(configured)
	for _, key := range configured {
		if !slices.Contains(requiredKeys, key) && !slices.Contains(optionalKeys, key) {
			msgs = append(msgs, fmt.Sprintf("Configuration key [%s] is not supported", key))
		}
	}

	if !truthy(cfg[KeyHTTP]) && !truthy(cfg[KeyHTTPS]) {
		msgs = append(msgs, "Settings serve via http and https are both set to false. At least one option should be set to true.")
	}

	for _, key := range configured {
		value := cfg[key]
		switch key {
		case KeyHTTP, KeyHTTPS:
			msgs = appendIf(msgs, validateBoolean(key, value))
		case KeyRelativeURL:
			msgs = appendIf(msgs, validateRelativeURL(value))
		case KeyHTTPPublishDir, KeyHTTPSPublishDir:
			msgs = appendIf(msgs, validateUsableDirectory(key, value))
		}
	}

	msgs = append(msgs, v.relativePathConflicts(ctx, repoID, cfg)...)

	if len(msgs) == 0 {
		return true, ""
	}
	for _, msg := range msgs {
		v.logger.Error(msg, "repo", repoID)
	}
	return false, strings.Join(msgs, "\n")
}

func (v *Validator) relativePathConflicts(ctx context.Context, repoID string, cfg map[string]any) []string {
	if v.registry == nil {
		return nil
	}

	relativeURL, _ := cfg[KeyRelativeURL].(string)
	path := db.RelativePath(repoID, relativeURL)

	conflicts, err := v.registry.FindRepositoriesByRelativePath(ctx, path, repoID)
	if err != nil {
		return []string{fmt.Sprintf("Could not check relative URL [%s] for conflicts: %v", path, err)}
	}

	var msgs []string
	for _, other := range conflicts {
		if other.Distributor.RelativeURL != "" {
			msgs = append(msgs, fmt.Sprintf(
				"Relative URL [%s] for repository [%s] conflicts with existing relative URL [%s] for repository [%s]",
				path, repoID, other.Distributor.RelativeURL, other.ID))
			continue
		}
		msgs = append(msgs, fmt.Sprintf(
			"Relative URL [%s] for repository [%s] conflicts with repo id for existing repository [%s]",
			path, repoID, other.ID))
	}
	return msgs
}

func appendIf(msgs []string, msg string) []string {
	if msg == "" {
		return msgs
	}
	return append(msgs, msg)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	default:
		return true
	}
}

func validateBoolean(key string, value any) string {
	switch value.(type) {
	case nil, bool:
		return ""
	}
	return fmt.Sprintf("Configuration value for [%s] should be a boolean, but is a %T", key, value)
}

func validateRelativeURL(value any) string {
	switch value.(type) {
	case nil, string:
		return ""
	}
	return fmt.Sprintf("Configuration value for [%s] must be a string, but is a %T", KeyRelativeURL, value)
}

func validateUsableDirectory(key string, value any) string {
	path, _ := value.(string)
	info, err := os.Stat(path)
	if path == "" || err != nil || !info.IsDir() {
		return fmt.Sprintf("Configuration value for [%s] must be an existing directory", key)
	}
	if !readWritable(path) {
		return fmt.Sprintf("Configuration value for [%s] must be a directory that is readable and writable", key)
	}
	return ""
}

func readWritable(dir string) bool {
	if _, err := os.ReadDir(dir); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".msirepo-access-")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// Flatten converts a stored configuration into the key/value form Validate
// accepts. Unset optional keys are left out.
func Flatten(c db.DistributorConfig) map[string]any {
	m := map[string]any{
		KeyRelativeURL: c.RelativeURL,
		KeyHTTP:        c.HTTP,
		KeyHTTPS:       c.HTTPS,
	}
	if c.HTTPPublishDir != "" {
		m[KeyHTTPPublishDir] = c.HTTPPublishDir
	}
	if c.HTTPSPublishDir != "" {
		m[KeyHTTPSPublishDir] = c.HTTPSPublishDir
	}
	return m
}

// Parse converts a validated flattened configuration into its stored form.
func Parse(m map[string]any) db.DistributorConfig {
	var c db.DistributorConfig
	c.RelativeURL, _ = m[KeyRelativeURL].(string)
	c.HTTP, _ = m[KeyHTTP].(bool)
	c.HTTPS, _ = m[KeyHTTPS].(bool)
	c.HTTPPublishDir, _ = m[KeyHTTPPublishDir].(string)
	c.HTTPSPublishDir, _ = m[KeyHTTPSPublishDir].(string)
	return c
}

// LoadConfigFile reads a distributor configuration from the default section
// of an INI file. Boolean keys are converted when they parse as booleans and
// kept as strings otherwise, so Validate can report them. A missing or
// unreadable file yields an empty map.
func LoadConfigFile(path string, logger log.Logger) map[string]any {
	logger.Debug("Loading configuration file", "path", path)

	cfg := make(map[string]any)
	file, err := ini.Load(path)
	if err != nil {
		logger.Warn("Could not load config file", "path", path, "error", err)
		return cfg
	}

	for _, key := range file.Section(ini.DefaultSection).Keys() {
		name := key.Name()
		value := key.String()
		if name == KeyHTTP || name == KeyHTTPS {
			if b, err := strconv.ParseBool(value); err == nil {
				cfg[name] = b
				continue
			}
		}
		cfg[name] = value
	}
	return cfg
}

// SaveConfigFile writes c to path as an INI file LoadConfigFile can read.
func SaveConfigFile(path string, c db.DistributorConfig) error {
	file := ini.Empty()
	section := file.Section(ini.DefaultSection)
	flat := Flatten(c)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if _, err := section.NewKey(key, fmt.Sprint(flat[key])); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}

	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
