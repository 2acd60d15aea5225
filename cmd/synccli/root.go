package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cfgFile holds the --config flag, following cli.root's cfgFile pattern:
// an explicit path wins, otherwise viper searches $HOME and the working
// directory for a named config file.
var cfgFile string

// envPrefix scopes the infra EnvConfig this CLI layers on top of viper's
// flag/file/env precedence (e.g. AIRWEAVE_SYNC_POSTGRES_DSN).
var envPrefix string

var rootCmd = &cobra.Command{
	Use:   "synccli",
	Short: "operator CLI for the airweave-sync engine",
	Long: `synccli runs, cancels, and inspects airweave-sync jobs.

Configuration is resolved with the same precedence as the teacher's
flow-service: command-line flags, then environment variables, then a
config file ($HOME/.synccli.yaml or ./.synccli.yaml), then defaults.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.synccli.yaml)")
	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", "AIRWEAVE_SYNC", "prefix for infra environment variables (postgres/neo4j/redis/etc.)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cursorsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".synccli")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
