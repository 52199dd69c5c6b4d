package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	profileEnv      = "CHATVAULT_CONFIG"
	profileDir      = "chatvault"
	profileFile     = "cli.toml"
	profileFileMode = 0o600
	profileDirMode  = 0o700
)

// profileSchema is the on-disk client profile.
type profileSchema struct {
	API     string `toml:"api,omitempty"`
	Timeout string `toml:"timeout,omitempty"`
}

func profilePath() (string, error) {
	if p := os.Getenv(profileEnv); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, profileDir, profileFile), nil
}

// loadProfile reads the profile into v. A missing file is not an error.
func loadProfile(v *viper.Viper) error {
	path, err := profilePath()
	if err != nil {
		return err
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read profile: %w", err)
	}
	return nil
}

func readProfileFile(path string) (profileSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return profileSchema{}, nil
		}
		return profileSchema{}, fmt.Errorf("read profile: %w", err)
	}
	var p profileSchema
	if err := toml.Unmarshal(data, &p); err != nil {
		return profileSchema{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func writeProfileFile(path string, p profileSchema) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), profileDirMode); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cli-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profile: %w", err)
	}
	if err := os.Chmod(tmpPath, profileFileMode); err != nil {
		return fmt.Errorf("chmod profile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

func newProfileCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change the client profile",
	}
	cmd.AddCommand(newProfileShowCmd(v), newProfileSetCmd())
	return cmd
}

func newProfileShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective client settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := profilePath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "profile: %s\n", path)
			_, _ = fmt.Fprintf(out, "api: %s\n", v.GetString("api"))
			_, _ = fmt.Fprintf(out, "timeout: %s\n", v.GetDuration("timeout"))
			return nil
		},
	}
}

func newProfileSetCmd() *cobra.Command {
	var api string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save client settings to the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if !flags.Changed("url") && !flags.Changed("request-timeout") {
				return errors.New("nothing to set: pass --url or --request-timeout")
			}

			path, err := profilePath()
			if err != nil {
				return err
			}
			p, err := readProfileFile(path)
			if err != nil {
				return err
			}
			if flags.Changed("url") {
				p.API = api
			}
			if flags.Changed("request-timeout") {
				p.Timeout = timeout.String()
			}
			if err := writeProfileFile(path, p); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&api, "url", "", "API base URL to store")
	cmd.Flags().DurationVar(&timeout, "request-timeout", 0, "request timeout to store")
	return cmd
}
