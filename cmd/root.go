package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/endorses/wirecat/cmd/analyze"
	"github.com/endorses/wirecat/cmd/count"
	"github.com/endorses/wirecat/cmd/fields"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "wirecat",
	Short:   "wirecat analyzes capture files",
	Long:    fmt.Sprintf("wirecat %s - capture file analysis on top of an external dissector", version.GetVersion()),
	Version: version.GetFullVersion(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging()
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(analyze.AnalyzeCmd)
	rootCmd.AddCommand(count.CountCmd)
	rootCmd.AddCommand(fields.FieldsCmd)
	rootCmd.AddCommand(versionCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Initialize structured logging
	logger.Initialize()

	addSubCommandPalattes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/wirecat/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or text")
	rootCmd.PersistentFlags().String("dissector", "", "dissector binary (default tshark on $PATH)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("dissector.path", rootCmd.PersistentFlags().Lookup("dissector"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Priority order for config files:
		// 1. ~/.config/wirecat/config.yaml
		// 2. ~/.config/wirecat.yaml
		viper.AddConfigPath(home + "/.config/wirecat")
		viper.AddConfigPath(home + "/.config")
		viper.SetConfigType("yaml")

		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			viper.SetConfigName("wirecat")
		}
	}

	// WIRECAT_DISSECTOR_PATH overrides dissector.path, and so on.
	viper.SetEnvPrefix("wirecat")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// configureLogging applies log.level and log.format once config is loaded.
// Without either, the LOG_LEVEL/LOG_FORMAT defaults from Initialize stay.
func configureLogging() {
	level, format := viper.GetString("log.level"), viper.GetString("log.format")
	if level == "" && format == "" {
		return
	}
	logger.Configure(os.Stderr, logger.ParseLevel(level), format)
}
