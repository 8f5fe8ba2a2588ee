package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kounsel/internal/appdir"
	"kounsel/internal/conversion"
)

var (
	exportFormat string
	exportOutput string
)

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a conversation transcript",
	Long: `Export a stored conversation as a markdown or standalone HTML file.

Counselor responses are markdown; the HTML format renders them with
syntax highlighting and sanitizes the output.

Examples:
  kounsel export abc-123                       # markdown to the exports dir
  kounsel export abc-123 --format html         # HTML instead
  kounsel export abc-123 --output transcript.md`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "Output format: md or html")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: exports dir)")
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "md" && exportFormat != "html" {
		return fmt.Errorf("format must be \"md\" or \"html\", got %q", exportFormat)
	}

	ctx, cancel := commandContext()
	defer cancel()

	client := newAPIClient(newTokenStore())
	sess, err := client.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	messages, err := client.GetMessages(ctx, args[0])
	if err != nil {
		return err
	}

	transcript := conversion.Transcript{Session: *sess, Messages: messages}
	var rendered string
	if exportFormat == "html" {
		rendered = conversion.RenderHTML(transcript, nil)
	} else {
		rendered = conversion.RenderMarkdown(transcript)
	}

	outPath := exportOutput
	if outPath == "" {
		dir, err := appdir.ExportsDir()
		if err != nil {
			return err
		}
		outPath = filepath.Join(dir, sess.ID+"."+exportFormat)
	}
	if err := os.WriteFile(outPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	fmt.Printf("Exported %d messages to %s\n", len(messages), outPath)
	return nil
}
