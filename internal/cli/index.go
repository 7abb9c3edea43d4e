package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BartekS5/essync/internal/admin"
)

func NewModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models, enabled first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tPLUGIN\tINDEX\tPK\tENABLED\tMIGRATION")
				for _, m := range admin.ListModels(a.registry) {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\n", m.Model, m.Plugin, m.Index, m.PK, m.Enabled, m.Migration)
				}
				return w.Flush()
			})
		},
	}
}

func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Administer the index of a model",
	}

	var page, size int
	status := &cobra.Command{
		Use:   "status <model>",
		Short: "Show index state and a page of documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				adm, err := a.admin()
				if err != nil {
					return err
				}
				st, err := adm.Status(c.Context(), args[0], page, size)
				if err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), st)
			})
		},
	}
	status.Flags().IntVar(&page, "page", 1, "Page of documents, starting at 1")
	status.Flags().IntVar(&size, "size", 10, "Documents per page")

	create := &cobra.Command{
		Use:   "create <model>",
		Short: "Create the index from the stored mapping and model overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				adm, err := a.admin()
				if err != nil {
					return err
				}
				return adm.CreateIndex(c.Context(), args[0])
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <model>",
		Short: "Delete the index of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				adm, err := a.admin()
				if err != nil {
					return err
				}
				return adm.DeleteIndex(c.Context(), args[0])
			})
		},
	}

	var sample string
	generate := &cobra.Command{
		Use:   "generate <model>",
		Short: "Derive a mapping file from a sample document",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			docs, err := readDocuments(sample)
			if err != nil {
				return err
			}
			if len(docs) != 1 {
				return fmt.Errorf("sample must be a single document, got %d", len(docs))
			}
			return withApp(func(a *app) error {
				adm, err := a.admin()
				if err != nil {
					return err
				}
				path, err := adm.GenerateMapping(c.Context(), args[0], docs[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "Mapping written to %s\n", path)
				return nil
			})
		},
	}
	generate.Flags().StringVarP(&sample, "file", "f", "-", "JSON file with the sample document")

	cmd.AddCommand(status, create, del, generate)
	return cmd
}
