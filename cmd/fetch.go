package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/crawler"
	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
)

// newFetchCmd creates the 'fetch' subcommand, which materializes the
// payloads of NDJSON index documents into a directory.
func newFetchCmd() *cobra.Command {
	var (
		input  string
		outDir string
		binary bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the payloads of index documents",
		Long: `Reads NDJSON index documents (from --input or stdin) and writes each
payload to --out as <_id> or <_id>.<n> when a document has several.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o750); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			in := cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input) //nolint:gosec // operator supplied path
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close() //nolint:errcheck // read-only
				in = f
			}

			var decodeErr error
			opts := []crawler.FetchOption{}
			if binary {
				opts = append(opts, crawler.WithMode(grid.ModeBinary))
			}
			counts := map[string]int{}
			written := 0
			for p, err := range appInstance.Fetcher().Fetched(cmd.Context(), readDocuments(in, &decodeErr), opts...) {
				if err != nil {
					return fmt.Errorf("fetch %s: %w", p.Doc.ID(), err)
				}
				id := p.Doc.ID()
				name := id
				if counts[id] > 0 {
					name = fmt.Sprintf("%s.%d", id, counts[id])
				}
				counts[id]++
				if err := writePayload(filepath.Join(outDir, name), p.Data); err != nil {
					return err
				}
				written++
			}
			if decodeErr != nil {
				return decodeErr
			}
			appInstance.Logger().Info("fetch finished",
				zap.Int("documents", len(counts)), zap.Int("payloads", written), zap.String("out", outDir))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "-", "NDJSON file of index documents (- for stdin)")
	cmd.Flags().StringVar(&outDir, "out", "payloads", "directory to write payloads into")
	cmd.Flags().BoolVar(&binary, "binary", false, "open payloads in binary mode")
	return cmd
}

// readDocuments yields one document per non-empty line. A decode error stops
// the sequence and is stored in errp.
func readDocuments(r io.Reader, errp *error) iter.Seq[document.Document] {
	return func(yield func(document.Document) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var doc document.Document
			if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
				*errp = fmt.Errorf("decode document on line %d: %w", line, err)
				return
			}
			if !yield(doc) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			*errp = fmt.Errorf("read documents: %w", err)
		}
	}
}

func writePayload(path string, payload any) (err error) {
	f, err := os.Create(path) //nolint:gosec // path built from document id
	if err != nil {
		return fmt.Errorf("create payload file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close payload file: %w", cerr)
		}
	}()
	switch p := payload.(type) {
	case io.ReadCloser:
		defer p.Close() //nolint:errcheck // read-only
		_, err = io.Copy(f, p)
	case []byte:
		_, err = f.Write(p)
	case string:
		_, err = io.WriteString(f, p)
	default:
		err = json.NewEncoder(f).Encode(p)
	}
	if err != nil {
		return fmt.Errorf("write payload %s: %w", path, err)
	}
	return nil
}
