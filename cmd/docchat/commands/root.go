// Package commands defines all Cobra CLI commands for the docchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/audit"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docchat",
		Short: "docchat answers questions about your PDF, DOCX and TXT documents",
		Long: `docchat is a document question-answering assistant.

Point it at a file or a synced folder (SharePoint, OneDrive, Dropbox) and ask
questions: answers are grounded in the retrieved passages. A general mode
chats without documents and keeps its own history.

The chat model is selected via MODEL_PROVIDER (ollama, openai, azure,
bedrock, gemini, huggingface), the embedding model via EMBEDDING_PROVIDER.
Settings may also come from a .env file or a YAML config file
(~/.docchat/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docchat/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
