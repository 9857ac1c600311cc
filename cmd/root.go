package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailagent application
var rootCmd = &cobra.Command{
	Use:   "mailagent",
	Short: "Mailbox operations for an LLM agent",
	Long: `mailagent lets a language model operate a connected mailbox: search,
read, send and reply, label, archive and trash in bulk, and unsubscribe from
senders. Destructive actions always wait for the user's approval.

It can run as:
  - An MCP (Model Context Protocol) server for AI assistants (serve)
  - An interactive agent backed by an OpenAI model (agent)
  - A one-shot job runner for scheduled cleanups (cleanup)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailagent version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAgentCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mailagent",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mailagent version %s\n", version)
		},
	}
}
