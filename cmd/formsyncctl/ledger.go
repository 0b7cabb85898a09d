package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/syncer"
)

type receiptsResponse struct {
	Receipts      []ledger.WebhookReceipt `json:"receipts"`
	NextPageToken string                  `json:"nextPageToken"`
	TotalSize     int                     `json:"totalSize"`
}

type submissionsResponse struct {
	Submissions   []ledger.SubmissionRecord `json:"submissions"`
	NextPageToken string                    `json:"nextPageToken"`
	TotalSize     int                       `json:"totalSize"`
}

type syncLogsResponse struct {
	Entries       []syncer.SyncLogEntry `json:"entries"`
	NextPageToken string                `json:"nextPageToken"`
	TotalSize     int                   `json:"totalSize"`
}

type pageFlags struct {
	size  int
	token string
}

func (p *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.size, "page-size", 20, "Maximum number of items to return")
	cmd.Flags().StringVar(&p.token, "page-token", "", "Token of the page to return")
}

func (p *pageFlags) apply(q url.Values) {
	q.Set("pageSize", strconv.Itoa(p.size))
	q.Set("pageToken", p.token)
}

func (o *options) printNextPage(cmd *cobra.Command, next string, total int) {
	if next != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d total, next page: --page-token %s\n", total, next)
	}
}

func newReceiptsCmd(o *options) *cobra.Command {
	var (
		status, source, formID string
		page                   pageFlags
	)
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List webhook receipts from the submission ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("status", status)
			q.Set("source", source)
			q.Set("externalFormId", formID)
			page.apply(q)

			var resp receiptsResponse
			if err := newClient(o).getJSON(apiPath("/receipts", q), &resp); err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			out := newPrinter(cmd.OutOrStdout(), o)
			if out.structured() {
				return out.printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Receipts))
			for _, r := range resp.Receipts {
				rows = append(rows, []string{
					r.ExternalSubmissionID,
					orDash(r.ExternalFormID),
					string(r.Source),
					string(r.Status),
					strconv.Itoa(r.Deliveries),
					formatTime(r.ReceivedAt),
					truncate(r.Error, 50),
				})
			}
			out.printTable([]string{"Submission", "Form", "Source", "Status", "Deliveries", "Received", "Error"}, rows)
			o.printNextPage(cmd, resp.NextPageToken, resp.TotalSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by receipt status (received, processed, failed, duplicate)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source (webhook, pull)")
	cmd.Flags().StringVar(&formID, "form", "", "Filter by external form id")
	page.register(cmd)
	return cmd
}

func newSubmissionsCmd(o *options) *cobra.Command {
	var (
		templateID, validation, beneficiary string
		page                                pageFlags
	)
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "List reconciled submission records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("templateId", templateID)
			q.Set("validationStatus", validation)
			q.Set("beneficiaryId", beneficiary)
			page.apply(q)

			var resp submissionsResponse
			if err := newClient(o).getJSON(apiPath("/submissions", q), &resp); err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			out := newPrinter(cmd.OutOrStdout(), o)
			if out.structured() {
				return out.printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Submissions))
			for _, s := range resp.Submissions {
				matched := "-"
				if s.MatchedBeneficiaryID != nil {
					matched = *s.MatchedBeneficiaryID
				}
				rows = append(rows, []string{
					s.ExternalSubmissionID,
					s.Purpose,
					s.ValidationStatus,
					orDash(s.MatchType),
					orDash(s.Confidence),
					matched,
					formatTime(s.ReceivedAt),
				})
			}
			out.printTable([]string{"Submission", "Purpose", "Validation", "Match", "Confidence", "Beneficiary", "Received"}, rows)
			o.printNextPage(cmd, resp.NextPageToken, resp.TotalSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "Filter by template id")
	cmd.Flags().StringVar(&validation, "validation-status", "", "Filter by validation status")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "Filter by matched beneficiary id")
	page.register(cmd)
	return cmd
}

func newSyncLogsCmd(o *options) *cobra.Command {
	var (
		status string
		page   pageFlags
	)
	cmd := &cobra.Command{
		Use:   "sync-logs [template-id]",
		Short: "List sync attempts, for one template or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			page.apply(q)
			path := "/sync-logs"
			if len(args) == 1 {
				path = "/templates/" + url.PathEscape(args[0]) + "/sync-logs"
			} else {
				q.Set("status", status)
			}

			var resp syncLogsResponse
			if err := newClient(o).getJSON(apiPath(path, q), &resp); err != nil {
				return fmt.Errorf("failed to list sync logs: %w", err)
			}

			out := newPrinter(cmd.OutOrStdout(), o)
			if out.structured() {
				return out.printOutput(resp)
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				rows = append(rows, []string{
					formatTime(e.CreatedAt),
					e.TemplateID,
					strconv.Itoa(e.TemplateVersion),
					string(e.Operation),
					string(e.Trigger),
					string(e.Status),
					orDash(e.ExternalID),
					strconv.FormatInt(e.DurationMs, 10) + "ms",
					truncate(e.Error, 50),
				})
			}
			out.printTable([]string{"Time", "Template", "Version", "Operation", "Trigger", "Status", "External ID", "Duration", "Error"}, rows)
			o.printNextPage(cmd, resp.NextPageToken, resp.TotalSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by attempt status (success, partial, failed); ignored with a template id")
	page.register(cmd)
	return cmd
}
