package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/ingest"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/schema"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/syncer"
)

type templateSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Purpose       string `json:"purpose"`
	Status        string `json:"status"`
	SyncEnabled   bool   `json:"syncEnabled"`
	SyncStatus    string `json:"syncStatus"`
	ExternalID    string `json:"externalId,omitempty"`
	Version       int    `json:"version"`
	LastSyncError string `json:"lastSyncError,omitempty"`
}

type templatesResponse struct {
	Templates []templateSummary `json:"templates"`
	TotalSize int               `json:"totalSize"`
}

type schemaResponse struct {
	Document       schema.Document     `json:"document"`
	LookupInjected bool                `json:"lookupInjected"`
	Issues         []schema.FieldIssue `json:"issues"`
}

func templatePath(id, suffix string) string {
	return apiPath("/templates/"+url.PathEscape(id)+suffix, nil)
}

func newTemplatesCmd(o *options) *cobra.Command {
	var status, syncStatus, purpose string
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List form templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("status", status)
			q.Set("syncStatus", syncStatus)
			q.Set("purpose", purpose)

			var resp templatesResponse
			if err := newClient(o).getJSON(apiPath("/templates", q), &resp); err != nil {
				return fmt.Errorf("failed to list templates: %w", err)
			}

			out := newPrinter(cmd.OutOrStdout(), o)
			if out.structured() {
				return out.printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Templates))
			for _, t := range resp.Templates {
				syncCol := t.SyncStatus
				if !t.SyncEnabled {
					syncCol = "disabled"
				}
				rows = append(rows, []string{
					t.ID,
					truncate(t.Name, 40),
					t.Purpose,
					t.Status,
					syncCol,
					orDash(t.ExternalID),
					strconv.Itoa(t.Version),
				})
			}
			out.printTable([]string{"ID", "Name", "Purpose", "Status", "Sync", "External ID", "Version"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by template status (draft, active, archived)")
	cmd.Flags().StringVar(&syncStatus, "sync-status", "", "Filter by sync status")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Filter by purpose")
	return cmd
}

func newSchemaCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <template-id>",
		Short: "Show the converted form document without pushing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp schemaResponse
			if err := newClient(o).getJSON(templatePath(args[0], "/schema"), &resp); err != nil {
				return fmt.Errorf("failed to convert template: %w", err)
			}

			out := newPrinter(cmd.OutOrStdout(), o)
			if out.structured() {
				return out.printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Document.Survey))
			for _, r := range resp.Document.Survey {
				rows = append(rows, []string{r.Name, r.Type, truncate(r.Label, 40), truncate(r.Relevant, 40)})
			}
			out.printTable([]string{"Name", "Type", "Label", "Relevant"}, rows)
			for _, issue := range resp.Issues {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", issue.Error())
			}
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, o *options, report *syncer.Report) error {
	out := newPrinter(cmd.OutOrStdout(), o)
	if out.structured() {
		return out.printOutput(report)
	}
	out.printTable([]string{"Field", "Value"}, [][]string{
		{"Template", report.TemplateID},
		{"Operation", string(report.Operation)},
		{"Status", string(report.Status)},
		{"External ID", orDash(report.ExternalID)},
		{"URL", orDash(report.ExternalURL)},
		{"Warnings", orDash(strings.Join(report.Warnings, "; "))},
		{"Error", orDash(report.Error)},
	})
	return nil
}

func newSyncCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <template-id>",
		Short: "Push a template to the data-collection platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report syncer.Report
			if err := newClient(o).postJSON(templatePath(args[0], ":sync"), nil, &report); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			return printReport(cmd, o, &report)
		},
	}
}

func newEnsureSyncedCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-synced <template-id>",
		Short: "Push a template only if it is not in sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw struct {
				syncer.Report
				Pushed *bool `json:"pushed"`
			}
			if err := newClient(o).postJSON(templatePath(args[0], ":ensure-synced"), nil, &raw); err != nil {
				return fmt.Errorf("ensure-synced failed: %w", err)
			}
			if raw.Pushed != nil && !*raw.Pushed {
				out := newPrinter(cmd.OutOrStdout(), o)
				if out.structured() {
					return out.printOutput(map[string]any{"templateId": raw.TemplateID, "pushed": false})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "template %s is in sync, nothing pushed\n", raw.TemplateID)
				return nil
			}
			return printReport(cmd, o, &raw.Report)
		},
	}
}

func newPullCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <template-id>",
		Short: "Fetch all platform submissions of a template through the ingestion pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary ingest.PullSummary
			if err := newClient(o).postJSON(templatePath(args[0], ":pull"), nil, &summary); err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}

			out := newPrinter(cmd.OutOrStdout(), o)
			if out.structured() {
				return out.printOutput(summary)
			}
			out.printTable([]string{"Fetched", "New", "Skipped", "Duplicates", "Updates", "Failed"}, [][]string{{
				strconv.Itoa(summary.Fetched),
				strconv.Itoa(summary.New),
				strconv.Itoa(summary.SkippedDuplicates),
				strconv.Itoa(summary.DuplicatesDetected),
				strconv.Itoa(summary.UpdatesMade),
				strconv.Itoa(summary.Failed),
			}})
			return nil
		},
	}
}
