package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	profile    string
	region     string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "wipeit",
		Short: "Inventory and tear down cloud resources",
		Long: `wipeit - cloud resource lifecycle engine

wipeit lists every supported resource in one account and region, grouped
by kind, and deletes a selection of them after an explicit, itemized
confirmation. Volumes are detached first, buckets are emptied of every
version and delete marker, and each resource gets its own result.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`wipeit {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (default ./wipeit.yaml)")
	flags.StringVarP(&profile, "profile", "p", "", "AWS shared config profile")
	flags.StringVarP(&region, "region", "r", "", "AWS region")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
