package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docintel/internal/config"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/pagination"
	"github.com/cloo-solutions/docintel/internal/service"
)

func DocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Inspect and requeue documents",
	}

	cmd.AddCommand(documentsListCmd())
	cmd.AddCommand(documentsReprocessCmd())
	cmd.AddCommand(ReindexCmd())

	return cmd
}

func documentsListCmd() *cobra.Command {
	var (
		owner  string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return withDocumentService(cmd.Context(), func(svc *service.DocumentService) error {
				page, err := svc.ListDocuments(cmd.Context(), service.ListDocumentsInput{
					OwnerID: owner,
					Cursor:  cursor,
					Limit:   limit,
				})
				if err != nil {
					return fmt.Errorf("failed to list documents: %w", err)
				}
				return printDocuments(cmd.OutOrStdout(), outputFormat, page)
			})
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().StringVar(&owner, "owner", "anonymous", "Owner whose documents to list")
	cmd.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

type documentRow struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	WordCount  int    `json:"word_count"`
	Error      string `json:"error,omitempty"`
	UploadedAt string `json:"uploaded_at"`
}

func printDocuments(w io.Writer, outputFormat string, page pagination.Page[*domain.Document]) error {
	rows := make([]documentRow, len(page.Items))
	for i, d := range page.Items {
		rows[i] = documentRow{
			ID:         d.ID,
			Filename:   d.Filename,
			Status:     string(d.Status),
			WordCount:  d.WordCount,
			Error:      d.Error,
			UploadedAt: d.UploadedAt.UTC().Format("2006-01-02 15:04:05"),
		}
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(pagination.Page[documentRow]{Items: rows, Cursor: page.Cursor, HasMore: page.HasMore})
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "No documents found")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s  %-10s  %5d words  %s (uploaded: %s)\n", r.ID, r.Status, r.WordCount, r.Filename, r.UploadedAt)
		if r.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", r.Error)
		}
	}
	if page.HasMore && page.Cursor != "" {
		fmt.Fprintf(w, "\nMore results available. Use --cursor %s\n", page.Cursor)
	}
	return nil
}

func documentsReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Queue one document for processing again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocumentService(cmd.Context(), func(svc *service.DocumentService) error {
				job, err := svc.Reprocess(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to reprocess document: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued document %s (job %s)\n", job.DocumentID, job.ID)
				return nil
			})
		},
	}
}

// ReindexCmd queues every idle document. A running server picks the jobs up
// on its next poll.
func ReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Queue every document for reprocessing",
		Long:  "Queue every document without an active job, e.g. after switching embedding models.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocumentService(cmd.Context(), func(svc *service.DocumentService) error {
				queued, err := svc.ReindexAll(cmd.Context())
				if err != nil {
					return fmt.Errorf("reindex stopped after %d documents: %w", queued, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d documents\n", queued)
				return nil
			})
		},
	}
}

func withDocumentService(ctx context.Context, fn func(svc *service.DocumentService) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	return fn(a.documentService())
}
