// Graphragd is the multi-tenant GraphRAG query engine daemon.
//
// It serves chat, agent, memory, extraction and SPARQL endpoints over HTTP,
// backed by a triplestore, neo4j, qdrant, redis and an optional federated
// SQL catalog.
//
// Configuration is loaded from a YAML file and environment variables:
//
//	# Start with defaults
//	graphragd
//
//	# Configure via file and environment
//	SERVER_PORT=9090 graphragd --config /etc/graphrag/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "graphragd",
	Short:         "GraphRAG query engine daemon",
	Long:          "graphragd serves the GraphRAG query engine: agent chat over vector, LPG,\ntriplestore and SQL backends, long-term memory, and ontology-guided extraction.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("graphragd %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
}
