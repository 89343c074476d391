package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Path returns the location of the engine configuration file, either the
// per-user one or the system-wide one.
func Path(system bool) (string, error) {
	var configDir string
	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Gantry")
		default:
			configDir = "/etc/gantry"
		}
	} else {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(userDir, "gantry")
	}
	return filepath.Join(configDir, "gantry.yaml"), nil
}

// Load populates T from gantry.yaml, GANTRY_* environment variables and the
// command's flags, in ascending precedence. A missing config file is fine;
// a malformed one is not.
func Load[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("gantry")
	v.SetConfigType("yaml")

	if explicitPath != nil && *explicitPath != "" {
		v.SetConfigFile(*explicitPath)
	}
	if userPath, err := Path(false); err == nil {
		v.AddConfigPath(filepath.Dir(userPath))
	}
	if systemPath, err := Path(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("gantry")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// Write persists the configuration as YAML at the user or system location,
// creating parent directories as needed. Mode 0600 since runner credentials
// may end up in here.
func Write[T any](c *T, system bool) (string, error) {
	path, err := Path(system)
	if err != nil {
		return "", err
	}
	return path, WriteTo(c, path)
}

// WriteTo persists the configuration as YAML at an explicit path.
func WriteTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0600)
}
