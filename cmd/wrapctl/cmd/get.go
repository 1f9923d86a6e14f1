package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aescanero/dago-wrap/internal/application/orchestrator"
	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type wrapsListResponse struct {
	Wraps []orchestrator.WrapInfo `json:"wraps"`
	Total int                     `json:"total"`
}

type runsListResponse struct {
	Runs  []*domain.RunState `json:"runs"`
	Total int                `json:"total"`
}

func newGetCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Query a wrapd service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "wraps",
		Short: "List the registered wraps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var result wrapsListResponse
			if err := opts.getJSON("/api/v1/wraps", &result); err != nil {
				return err
			}
			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), result)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "ID", "Controls")
			for _, w := range result.Wraps {
				id := w.ID
				if id == "" {
					id = "-"
				}
				if err := table.Append(w.Name, id, fmt.Sprintf("%d", w.Controls)); err != nil {
					return err
				}
			}
			return table.Render()
		},
	})

	var wrapFilter, statusFilter string
	runs := &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if wrapFilter != "" {
				query.Set("wrap", wrapFilter)
			}
			if statusFilter != "" {
				query.Set("status", statusFilter)
			}
			path := "/api/v1/runs"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}

			var result runsListResponse
			if err := opts.getJSON(path, &result); err != nil {
				return err
			}
			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), result)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Run", "Wrap", "Status", "Submitted", "Error")
			for _, r := range result.Runs {
				errText := r.Error
				if errText == "" {
					errText = "-"
				}
				if err := table.Append(r.RunID, r.Wrap, string(r.Status), r.SubmittedAt.Format(time.RFC3339), errText); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal runs: %d\n", result.Total)
			return nil
		},
	}
	runs.Flags().StringVar(&wrapFilter, "wrap", "", "only runs of this wrap")
	runs.Flags().StringVar(&statusFilter, "status", "", "only runs in this status")
	cmd.AddCommand(runs)

	cmd.AddCommand(&cobra.Command{
		Use:   "run <run-id>",
		Short: "Show one run and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var state domain.RunState
			if err := opts.getJSON("/api/v1/runs/"+url.PathEscape(args[0]), &state); err != nil {
				return err
			}
			if opts.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), state)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Field", "Value")
			rows := [][]string{
				{"Run", state.RunID},
				{"Wrap", state.Wrap},
				{"Status", string(state.Status)},
				{"Submitted", state.SubmittedAt.Format(time.RFC3339)},
			}
			if state.CompletedAt != nil {
				rows = append(rows, []string{"Completed", state.CompletedAt.Format(time.RFC3339)})
			}
			if state.Error != "" {
				rows = append(rows, []string{"Error", state.Error})
			}
			for _, row := range rows {
				if err := table.Append(row[0], row[1]); err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}

			if len(state.Content) == 0 {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return printContent(cmd.OutOrStdout(), false, state.Content)
		},
	})

	return cmd
}

// getJSON fetches path from the server and decodes the JSON body into v
func (o *options) getJSON(path string, v interface{}) error {
	resp, err := o.httpClient().Get(o.serverURL() + path)
	if err != nil {
		return fmt.Errorf("failed to connect to wrapd: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
