package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kbchat/internal/api"
)

var (
	docsWait       bool
	docsResetForce bool
	previewOut     string
)

func init() {
	docsUploadCmd.Flags().BoolVarP(&docsWait, "wait", "w", false, "block until indexing finishes")
	docsResetCmd.Flags().BoolVar(&docsResetForce, "force", false, "skip the confirmation check")
	docsPreviewCmd.Flags().StringVarP(&previewOut, "out", "o", "", "write preview to a file instead of stdout")

	docsCmd.AddCommand(docsListCmd, docsUploadCmd, docsDeleteCmd, docsStatusCmd, docsPreviewCmd, docsResetCmd)
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the document knowledge base",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		if err := kb.docs.Refresh(cmd.Context()); err != nil {
			return err
		}
		documents := kb.docs.Documents()
		if len(documents) == 0 {
			fmt.Println("No documents uploaded.")
			return nil
		}
		for _, d := range documents {
			fmt.Printf("%6d  %-40s  %-10s  %4d chunks  %s\n",
				d.ID, truncate(d.Filename, 40), statusLabel(d), d.ChunkCount,
				d.UploadedAt.Format("2006-01-02 15:04"))
			if d.IndexStatus == api.IndexStatusFailed && d.ErrorMessage != "" {
				color.Red("        %s", d.ErrorMessage)
			}
		}
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents for indexing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		for _, path := range args {
			doc, err := kb.docs.Upload(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}
			fmt.Printf("Uploaded %s (id %d, %s)\n", doc.Filename, doc.ID, doc.IndexStatus)
		}
		if !docsWait {
			return nil
		}

		fmt.Println("Waiting for indexing...")
		for kb.docs.Polling() {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
		for _, d := range kb.docs.Documents() {
			fmt.Printf("%6d  %-40s  %s\n", d.ID, truncate(d.Filename, 40), statusLabel(d))
		}
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		if err := kb.docs.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted document %d\n", id)
		return nil
	},
}

var docsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a document's indexing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		status, err := kb.client.DocumentStatus(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("document %d: %s (%d chunks)\n", status.ID, status.IndexStatus, status.ChunkCount)
		if status.ErrorMessage != "" {
			color.Red("%s", status.ErrorMessage)
		}
		return nil
	},
}

var docsPreviewCmd = &cobra.Command{
	Use:   "preview <id>",
	Short: "Fetch a document preview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		data, err := kb.docs.Preview(cmd.Context(), id)
		if err != nil {
			return err
		}
		if previewOut != "" {
			if err := os.WriteFile(previewOut, data, 0644); err != nil {
				return err
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(data), previewOut)
			return nil
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var docsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every document from the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireAuth(cmd); err != nil {
			return err
		}
		if !docsResetForce {
			return fmt.Errorf("this deletes all documents permanently; re-run with --force to confirm")
		}
		if err := kb.docs.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Knowledge base reset.")
		return nil
	},
}

func statusLabel(d api.Document) string {
	switch d.IndexStatus {
	case api.IndexStatusIndexed:
		return color.GreenString(d.IndexStatus)
	case api.IndexStatusFailed:
		return color.RedString(d.IndexStatus)
	default:
		return color.YellowString(d.IndexStatus)
	}
}
