package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/essync/internal/etl"
)

type SyncOptions struct {
	ID         string
	IDs        []string
	File       string
	Relations  []string
	Conditions []string
}

func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Propagate single records to the search index",
	}
	cmd.AddCommand(newUpsertCmd(), newDeleteCmd(), newRebuildCmd())
	return cmd
}

func newUpsertCmd() *cobra.Command {
	opts := &SyncOptions{}
	cmd := &cobra.Command{
		Use:   "upsert <model>",
		Short: "Index documents from a JSON file",
		Long: `Without --id the file must hold one document and the engine assigns its
id. With --id every document is indexed under its primary key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			docs, err := readDocuments(opts.File)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				svc, err := a.service(false)
				if err != nil {
					return err
				}
				res := svc.CreateOrUpdate(c.Context(), args[0], etl.UpsertInput{ID: opts.ID, Data: docs})
				return printResult(c.OutOrStdout(), "upsert "+args[0], res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "Document id; switches to keyed bulk writes")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "-", "JSON file with a document or an array of documents")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	opts := &SyncOptions{}
	cmd := &cobra.Command{
		Use:   "delete <model>",
		Short: "Delete documents by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				svc, err := a.service(false)
				if err != nil {
					return err
				}
				res := svc.Destroy(c.Context(), args[0], etl.DestroyInput{IDs: opts.IDs})
				return printResult(c.OutOrStdout(), "delete "+args[0], res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.IDs, "id", nil, "Document id (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newRebuildCmd() *cobra.Command {
	opts := &SyncOptions{}
	cmd := &cobra.Command{
		Use:   "rebuild <model>",
		Short: "Re-derive documents from the database by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			conditions, err := parseConditions(opts.Conditions)
			if err != nil {
				return err
			}
			in := etl.MigrateByIDInput{IDs: opts.IDs, Conditions: conditions}
			if c.Flags().Changed("relation") {
				in.Relations = opts.Relations
				if in.Relations == nil {
					in.Relations = []string{}
				}
			}
			return withApp(func(a *app) error {
				svc, err := a.service(true)
				if err != nil {
					return err
				}
				res := svc.MigrateByID(c.Context(), args[0], in)
				return printResult(c.OutOrStdout(), "rebuild "+args[0], res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.IDs, "id", nil, "Row id (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.Relations, "relation", "r", nil, "Relations to load instead of the model's list")
	cmd.Flags().StringArrayVarP(&opts.Conditions, "condition", "c", nil, "Extra filter condition key=value (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
