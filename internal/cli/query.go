package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/model"
	"github.com/virgo-archive/tapir/pkg/tap"
)

// NewQueryCmd creates the query command.
func NewQueryCmd() *cobra.Command {
	var (
		service  string
		async    bool
		format   string
		language string
		maxrec   int64
		out      string
		upload   string
		uploadAs string
	)

	cmd := &cobra.Command{
		Use:   "query <query-text>",
		Short: "Submit a query and collect its results",
		Long: `Submit a query to a configured archive service. Synchronous queries print
the result body; asynchronous queries are polled to completion and their
products downloaded through the cache.

Note the synchronous path is subject to a server-side row ceiling and may be
truncated; when the server signals truncation it is reported here.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := tap.QueryOptions{
				Language:     language,
				OutputFormat: format,
				RowLimit:     maxrec,
			}
			if upload != "" {
				if uploadAs == "" {
					uploadAs = "upload"
				}
				opts.Upload = &model.UploadTable{Path: upload}
				opts.UploadName = uploadAs
			}
			return runQuery(cmd, args[0], service, async, out, opts)
		},
	}

	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (required)")
	cmd.Flags().BoolVar(&async, "async", false, "submit asynchronously and poll to completion")
	cmd.Flags().StringVar(&format, "format", "", "requested result format (e.g. votable, csv)")
	cmd.Flags().StringVar(&language, "language", "", "query language (default ADQL)")
	cmd.Flags().Int64Var(&maxrec, "maxrec", 0, "row limit (MAXREC)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result to this file instead of stdout")
	cmd.Flags().StringVar(&upload, "upload", "", "local table file to upload alongside the query")
	cmd.Flags().StringVar(&uploadAs, "upload-as", "", "name the uploaded table (UPLOAD.<name>)")
	_ = cmd.MarkFlagRequired("service")

	return cmd
}

func runQuery(cmd *cobra.Command, query, service string, async bool, out string, opts tap.QueryOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := buildClient(cfg, service)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if !async {
		job, err := client.QuerySync(ctx, query, opts)
		if err != nil {
			return err
		}
		if job.Truncated != nil && *job.Truncated {
			logger.Warn("Result truncated at the server's row ceiling", logger.Fields{"job": job.ID})
		}
		return writeResult(cmd, client, job, out)
	}

	job, err := client.QueryAsync(ctx, query, opts)
	if err != nil {
		return err
	}
	logger.Info("Job submitted", logger.Fields{"job": job.ID, "phase": job.Phase})

	if job, err = client.Wait(ctx, job); err != nil {
		return err
	}
	outcomes, err := client.DownloadResults(ctx, job)
	if err != nil {
		return err
	}
	for _, oc := range outcomes {
		if oc.Err != nil {
			logger.Error("Result download failed", logger.Fields{"url": oc.Request.URL, "err": oc.Err.Error()})
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), oc.Entry.LocalPath)
	}
	return nil
}

func writeResult(cmd *cobra.Command, client *tap.Client, job *model.Job, out string) error {
	refs, err := client.Results(cmd.Context(), job)
	if err != nil {
		return err
	}
	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	for _, ref := range refs {
		body, err := client.Open(cmd.Context(), ref)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, body); err != nil {
			_ = body.Close()
			return err
		}
		_ = body.Close()
	}
	return nil
}
