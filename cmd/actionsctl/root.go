package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       *viper.Viper
)

var boundFlags = []string{"server", "output", "user-email", "user-name", "token"}

var rootCmd = &cobra.Command{
	Use:   "actionsctl",
	Short: "CLI for the improvement actions server",
	Long: `actionsctl inspects and drives improvement actions on an actions server.

Settings are read from flags, ACTIONSCTL_* environment variables and
~/.actionsctl.yaml, in that order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd.Root())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.actionsctl.yaml)")
	pf.String("server", "http://localhost:8080", "Actions server URL")
	pf.StringP("output", "o", "table", "Output format: table, json, yaml")
	pf.String("user-email", "", "Caller email sent as X-User-Email")
	pf.String("user-name", "", "Caller name sent as X-User-Name")
	pf.String("token", "", "Bearer token sent as Authorization")

	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(remindersCmd)
	rootCmd.AddCommand(healthCmd)
}

// initConfig builds the settings for one invocation from the root's
// persistent flags, the environment and the config file.
func initConfig(root *cobra.Command) error {
	v = viper.New()
	for _, name := range boundFlags {
		if err := v.BindPFlag(name, root.PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	v.SetEnvPrefix("ACTIONSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(); err != nil {
		return err
	}

	switch outputFormat() {
	case "table", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (use table, json or yaml)", outputFormat())
	}
}

// readConfigFile loads --config, or ~/.actionsctl.yaml when it exists.
func readConfigFile() error {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".actionsctl.yaml")
	}
	v.SetConfigFile(path)

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		if cfgFile != "" {
			return fmt.Errorf("config file %s not found", cfgFile)
		}
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

func outputFormat() string { return v.GetString("output") }
