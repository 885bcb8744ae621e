package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd is the CLI entry point, following the pack's one-file
// root-command convention.
var rootCmd = &cobra.Command{
	Use:   "lonstackd",
	Short: "control-network node daemon",
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the node's YAML configuration override file")
}

func main() {
	log.SetLevel(log.InfoLevel)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
