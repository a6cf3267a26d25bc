package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/jtlresearchit/leaf/internal/catalog"
	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	"github.com/jtlresearchit/leaf/pkg/config"
	"github.com/jtlresearchit/leaf/pkg/kafka"
	"github.com/jtlresearchit/leaf/pkg/postgres"
	"github.com/jtlresearchit/leaf/pkg/proto"
)

type options struct {
	server  string
	timeout time.Duration
	json    bool
	out     io.Writer
}

func (o *options) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

func newRootCmd(out io.Writer) *cobra.Command {
	o := &options{out: out}
	server := os.Getenv("LEAF_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}

	cmd := &cobra.Command{
		Use:   "datasetctl",
		Short: "Search and manage the dataset catalog",
		Long: heredoc.Doc(`
			datasetctl talks to a running dataset search service. It searches the
			catalog, changes which datasets are visible, and pushes or reloads the
			catalog the index is built from.

			The service address comes from --server or LEAF_SERVER.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&o.server, "server", server, "search service base URL")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVar(&o.json, "json", false, "print raw JSON responses")

	cmd.AddCommand(
		newSearchCmd(o),
		newPushCmd(o),
		newReloadCmd(o),
		newVisibilityCmd(o, "hide", false),
		newVisibilityCmd(o, "show", true),
		newResetCmd(o),
		newDemographicsCmd(o),
		newImportCmd(o),
	)
	return cmd
}

func newSearchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search [terms...]",
		Short: "Search datasets by name, tag, category or description",
		Long: heredoc.Doc(`
			Every term must prefix-match a different word of the same dataset.
			With no terms the full visible catalog is listed.
		`),
		Example: heredoc.Doc(`
			$ datasetctl search blood pan
			$ datasetctl search --json lab
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/datasets/search?q=" + url.QueryEscape(strings.Join(args, " "))
			var res assembler.Result
			if err := o.client().do(cmd.Context(), http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			return o.printResult(res)
		},
	}
}

func newPushCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "push FILE",
		Short: "Rebuild the index from a JSON catalog file",
		Long: heredoc.Doc(`
			Sends the records in FILE, a JSON array, to the service, which replaces
			its index with them. The database is not touched; see import.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readCatalog(args[0])
			if err != nil {
				return err
			}
			var res assembler.Result
			if err := o.client().do(cmd.Context(), http.MethodPut, "/api/v1/datasets", records, &res); err != nil {
				return err
			}
			return o.printResult(res)
		},
	}
}

func newReloadCmd(o *options) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Reload the catalog from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/datasets/reload?fresh=%t", !cached)
			var res assembler.Result
			if err := o.client().do(cmd.Context(), http.MethodPost, path, nil, &res); err != nil {
				return err
			}
			return o.printResult(res)
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "use the cached catalog snapshot if there is one")
	return cmd
}

func newVisibilityCmd(o *options, use string, allow bool) *cobra.Command {
	short := "Exclude a dataset from search results"
	if allow {
		short = "Return an excluded dataset to search results"
	}
	return &cobra.Command{
		Use:   use + " DATASET_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/datasets/" + url.PathEscape(args[0]) + "/visibility"
			var ack proto.VisibilityAck
			if err := o.client().do(cmd.Context(), http.MethodPut, path, proto.VisibilityRequest{Allow: &allow}, &ack); err != nil {
				return err
			}
			if o.json {
				return o.printJSON(ack)
			}
			state := "hidden"
			if ack.Allow {
				state = "visible"
			}
			fmt.Fprintf(o.out, "%s is now %s\n", ack.DatasetID, state)
			return nil
		},
	}
}

func newResetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Make every dataset visible again",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res assembler.Result
			if err := o.client().do(cmd.Context(), http.MethodPost, "/api/v1/datasets/visibility/reset", nil, &res); err != nil {
				return err
			}
			return o.printResult(res)
		},
	}
}

func newDemographicsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "demographics on|off",
		Short:     "Show or hide the Basic Demographics dataset",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			allow := args[0] == "on"
			var res assembler.Result
			if err := o.client().do(cmd.Context(), http.MethodPut, "/api/v1/datasets/demographics", proto.VisibilityRequest{Allow: &allow}, &res); err != nil {
				return err
			}
			return o.printResult(res)
		},
	}
}

func newImportCmd(o *options) *cobra.Command {
	var (
		configPath string
		notify     bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Write a JSON catalog file into the database",
		Long: heredoc.Doc(`
			Upserts the records in FILE into app.dataset_query using the database
			settings from --config and LEAF_POSTGRES_* variables. With --notify a
			catalog.changed event is published so running services reload.
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readCatalog(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := postgres.New(cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			if err := catalog.NewPostgresStore(db, nil).Upsert(ctx, records); err != nil {
				return err
			}
			fmt.Fprintf(o.out, "imported %d datasets\n", len(records))

			if !notify {
				return nil
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return fmt.Errorf("--notify needs kafka.brokers to be configured")
			}
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CatalogChanged)
			defer producer.Close()
			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			event := proto.CatalogChangedEvent{Reason: "import", DatasetIDs: ids, ChangedAt: time.Now().UTC()}
			if err := producer.Publish(ctx, kafka.Event{Key: "catalog", Value: event}); err != nil {
				return err
			}
			fmt.Fprintln(o.out, "catalog change published")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "service config file")
	cmd.Flags().BoolVar(&notify, "notify", false, "publish a catalog.changed event after importing")
	return cmd
}

func readCatalog(path string) ([]dataset.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var records []dataset.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	for i, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("catalog %s: record %d has no id", path, i)
		}
	}
	return records, nil
}

func (o *options) printJSON(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult lists datasets grouped by category, in display order.
func (o *options) printResult(res assembler.Result) error {
	if o.json {
		return o.printJSON(res)
	}
	if res.DatasetCount == 0 {
		fmt.Fprintln(o.out, "no datasets")
		return nil
	}
	tw := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
	for _, c := range res.Categories {
		name := c.Name
		if name == "" {
			name = "(uncategorized)"
		}
		fmt.Fprintf(tw, "%s\n", name)
		for _, d := range c.Datasets {
			fmt.Fprintf(tw, "  %s\t%s\n", d.ID, d.Name)
		}
	}
	fmt.Fprintf(tw, "%d datasets\n", res.DatasetCount)
	return tw.Flush()
}
