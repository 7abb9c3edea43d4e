package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BartekS5/essync/pkg/logger"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "essync",
		Short: "essync - keeps Elasticsearch indexes in sync with a SQL database",
		Long: `essync re-populates Elasticsearch indexes from relational tables and
propagates single records as they change. Models, their relations and
field transforms are declared in the models file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
			if err != nil {
				return err
			}
			return logger.InitLogger(os.Getenv("LOG_FILE"), level)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.AddCommand(
		NewMigrateCmd(),
		NewSyncCmd(),
		NewFindCmd(),
		NewGetCmd(),
		NewModelsCmd(),
		NewIndexCmd(),
	)

	return rootCmd
}
