package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "srtsniper",
	Short: "Watches the SRT timetable and grabs the first free seat on your trains.",
	Long: `srtsniper logs in to the SRT reservation site, searches your itinerary and
keeps refreshing the results until one of the ranked trains offers a seat
(or a waitlist slot), then reserves it and tells you to pay.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

func main() {
	Execute()
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.srtsniper/config.yaml)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")

	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig wires environment variables and prepares the data directory.
func initConfig() {
	viper.SetEnvPrefix("SRT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := InitLocale(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: locale initialization failed: %v\n", err)
	}

	if err := SetLogLevel(viper.GetString("loglevel")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfgFile == "" {
		userDataDir := getUserDataDir()
		if err := os.MkdirAll(userDataDir, 0755); err != nil {
			Log.Warnf("cannot create %s: %v", userDataDir, err)
		}
		cfgFile = filepath.Join(userDataDir, "config.yaml")
	}
}

func getUserDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return "./srtsniper-data"
	}
	return filepath.Join(home, ".srtsniper")
}
