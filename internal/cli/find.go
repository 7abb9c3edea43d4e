package cli

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/BartekS5/essync/internal/search"
)

type FindOptions struct {
	Query string
	Sort  []string
	From  int
	Size  int
}

func NewFindCmd() *cobra.Command {
	opts := &FindOptions{}
	cmd := &cobra.Command{
		Use:   "find <index>",
		Short: "Run a raw search against an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				svc, err := a.service(false)
				if err != nil {
					return err
				}
				return printResult(c.OutOrStdout(), "find "+args[0], svc.Find(c.Context(), args[0], req))
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "Query as JSON, match_all when empty")
	cmd.Flags().StringSliceVar(&opts.Sort, "sort", nil, "Sort field[:asc|desc] (repeatable)")
	cmd.Flags().IntVar(&opts.From, "from", 0, "Offset of the first hit")
	cmd.Flags().IntVar(&opts.Size, "size", 10, "Number of hits")
	return cmd
}

func (o *FindOptions) request() (search.SearchRequest, error) {
	req := search.SearchRequest{From: o.From, Size: o.Size}
	if o.Query != "" {
		if err := json.Unmarshal([]byte(o.Query), &req.Query); err != nil {
			return req, fmt.Errorf("invalid --query: %w", err)
		}
	}
	for _, s := range o.Sort {
		field, order, _ := strings.Cut(s, ":")
		if order == "" {
			order = "asc"
		}
		if order != "asc" && order != "desc" {
			return req, fmt.Errorf("invalid sort order %q", order)
		}
		req.Sort = append(req.Sort, map[string]any{field: map[string]any{"order": order}})
	}
	return req, nil
}

func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <model> <id>",
		Short: "Fetch one indexed document",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				svc, err := a.service(false)
				if err != nil {
					return err
				}
				return printResult(c.OutOrStdout(), "get "+args[0]+"/"+args[1], svc.FindOne(c.Context(), args[0], args[1]))
			})
		},
	}
}
