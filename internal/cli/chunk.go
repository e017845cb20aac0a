package cli

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/yungbote/prdsmith-backend/internal/ingestion/extractor"
)

var (
	chunkSize int
	chunkJSON bool
)

// chunkCmd runs extraction and chunking offline, without a database.
var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Extract a document and show how it would be chunked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text, err := extractor.ExtractText(filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data)
		if err != nil {
			return err
		}
		chunks := extractor.Chunk(text, chunkSize)
		out := cmd.OutOrStdout()
		if chunkJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(chunks)
		}
		for i, c := range chunks {
			fmt.Fprintf(out, "--- chunk %d (%d chars) ---\n%s\n", i+1, utf8.RuneCountInString(c), c)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d chunks from %d chars\n", len(chunks), utf8.RuneCountInString(text))
		return nil
	},
}

func init() {
	chunkCmd.Flags().IntVarP(&chunkSize, "size", "n", 1000, "maximum characters per chunk")
	chunkCmd.Flags().BoolVar(&chunkJSON, "json", false, "print chunks as a JSON array")
}
