// Package config loads and validates the experiment configuration file.
// Validation happens once, before a run starts; the resulting Config is
// immutable for the lifetime of the run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultFridaIterations          = 10
	DefaultNoFridaIterations        = 10
	DefaultImageSimilarityThreshold = 0.99
	DefaultSSHPort                  = 22
	DefaultWDAURL                   = "http://127.0.0.1:8100"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Load reads, parses and validates the YAML config at path. Relative paths
// in the file are resolved against the current working directory; `~` is
// expanded against the user's home.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		FridaIterations:          DefaultFridaIterations,
		NoFridaIterations:        DefaultNoFridaIterations,
		ImageSimilarityThreshold: DefaultImageSimilarityThreshold,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.IOS != nil {
		if cfg.IOS.WDAURL == "" {
			cfg.IOS.WDAURL = DefaultWDAURL
		}
		if cfg.IOS.SSH.Port == 0 {
			cfg.IOS.SSH.Port = DefaultSSHPort
		}
	}
	if cfg.RemoteServerSSH != nil && cfg.RemoteServerSSH.Port == 0 {
		cfg.RemoteServerSSH.Port = DefaultSSHPort
	}
}

func normalizePaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.OutputPath,
		&cfg.TapCoordinatesPath,
		&cfg.ImageCropRegionsPath,
		&cfg.SleepTimesPath,
		&cfg.IptablesScriptUpPath,
		&cfg.IptablesScriptDownPath,
	} {
		*p = expandPath(*p)
	}
	if cfg.IOS != nil {
		cfg.IOS.SSH.KeyPath = expandPath(cfg.IOS.SSH.KeyPath)
	}
	if cfg.RemoteServerSSH != nil {
		cfg.RemoteServerSSH.KeyPath = expandPath(cfg.RemoteServerSSH.KeyPath)
	}
}

// expandPath expands a leading `~` and makes the path absolute. Empty paths
// stay empty.
func expandPath(p string) string {
	if p == "" {
		return ""
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Validate checks that all config values are coherent. It returns the first
// ValidationError encountered.
func Validate(cfg *Config) error {
	switch cfg.Platform {
	case PlatformAndroid, PlatformIOS:
	default:
		return ValidationError{Field: "platform", Message: "must be \"android\" or \"ios\""}
	}
	switch cfg.NetworkProfile {
	case ProfileLAN, ProfileWAN:
	default:
		return ValidationError{Field: "network_profile", Message: "must be \"lan\" or \"wan\""}
	}

	if cfg.ServerInterface == "" {
		return ValidationError{Field: "server_interface", Message: "is required"}
	}
	if cfg.PhoneInterface == "" {
		return ValidationError{Field: "phone_interface", Message: "is required"}
	}
	if cfg.OutputPath == "" {
		return ValidationError{Field: "output_path", Message: "is required"}
	}
	if cfg.FridaIterations < 0 {
		return ValidationError{Field: "frida_iterations", Message: "must not be negative"}
	}
	if cfg.NoFridaIterations < 0 {
		return ValidationError{Field: "no_frida_iterations", Message: "must not be negative"}
	}
	if cfg.ImageSimilarityThreshold < -1 || cfg.ImageSimilarityThreshold > 1 {
		return ValidationError{Field: "image_similarity_threshold", Message: "must be within [-1, 1]"}
	}

	if err := mustExistDir(cfg.TapCoordinatesPath, "tap_coordinates_path"); err != nil {
		return err
	}
	for field, p := range map[string]string{
		"image_crop_regions_path":   cfg.ImageCropRegionsPath,
		"iptables_script_up_path":   cfg.IptablesScriptUpPath,
		"iptables_script_down_path": cfg.IptablesScriptDownPath,
	} {
		if err := mustExistFile(p, field); err != nil {
			return err
		}
	}
	if cfg.SleepTimesPath != "" {
		if err := mustExistFile(cfg.SleepTimesPath, "sleep_times_path"); err != nil {
			return err
		}
	}

	// Platform sub-config must be present exactly for the active platform.
	if cfg.Platform == PlatformAndroid {
		if cfg.Android == nil {
			return ValidationError{Field: "android", Message: "is required when platform is \"android\""}
		}
		if cfg.IOS != nil {
			return ValidationError{Field: "ios", Message: "must be omitted unless platform is \"ios\""}
		}
	} else {
		if cfg.IOS == nil {
			return ValidationError{Field: "ios", Message: "is required when platform is \"ios\""}
		}
		if cfg.Android != nil {
			return ValidationError{Field: "android", Message: "must be omitted unless platform is \"android\""}
		}
		if err := validateSSH(&cfg.IOS.SSH, "ios.ssh"); err != nil {
			return err
		}
		if cfg.IOS.PhonePcapSavePath == "" {
			return ValidationError{Field: "ios.phone_pcap_save_path", Message: "is required"}
		}
	}

	if cfg.NetworkProfile == ProfileWAN {
		if cfg.RemoteServerSSH == nil {
			return ValidationError{Field: "remote_server_ssh", Message: "is required for the wan profile"}
		}
		if err := validateSSH(cfg.RemoteServerSSH, "remote_server_ssh"); err != nil {
			return err
		}
		if cfg.RemoteServerInterface == "" {
			return ValidationError{Field: "remote_server_interface", Message: "is required for the wan profile"}
		}
	}

	return nil
}

func validateSSH(ssh *SSHConfig, field string) error {
	if ssh.Host == "" {
		return ValidationError{Field: field + ".host", Message: "is required"}
	}
	if ssh.Username == "" {
		return ValidationError{Field: field + ".username", Message: "is required"}
	}
	if ssh.KeyPath == "" && ssh.Password == "" {
		return ValidationError{Field: field, Message: "provide either key_path or password"}
	}
	if ssh.KeyPath != "" {
		if err := mustExistFile(ssh.KeyPath, field+".key_path"); err != nil {
			return err
		}
	}
	return nil
}

func mustExistFile(p, field string) error {
	info, err := os.Stat(p)
	if err != nil {
		return ValidationError{Field: field, Message: fmt.Sprintf("does not exist: %s", p)}
	}
	if info.IsDir() {
		return ValidationError{Field: field, Message: fmt.Sprintf("must be a file: %s", p)}
	}
	return nil
}

func mustExistDir(p, field string) error {
	info, err := os.Stat(p)
	if err != nil {
		return ValidationError{Field: field, Message: fmt.Sprintf("does not exist: %s", p)}
	}
	if !info.IsDir() {
		return ValidationError{Field: field, Message: fmt.Sprintf("must be a directory: %s", p)}
	}
	return nil
}
