// Package ingest implements the offline ingestion subcommand for loading
// image files from disk without going through the HTTP API.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tkoskela/imagevault-go/internal/blobstore"
	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/datastore"
	"github.com/tkoskela/imagevault-go/internal/logging"
	"github.com/tkoskela/imagevault-go/internal/pipeline"
)

// Command creates the ingest command.
func Command(settings *conf.Settings) *cobra.Command {
	var ownerID uint

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest image files from disk",
		Long:  "Run the full ingestion pipeline for local image files: store, extract metadata, generate thumbnails and auto-tag.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == 0 {
				return fmt.Errorf("--owner is required")
			}
			return runIngest(cmd.Context(), settings, ownerID, args)
		},
	}

	cmd.Flags().UintVar(&ownerID, "owner", 0, "Owner user id for the ingested images")
	return cmd
}

func runIngest(ctx context.Context, settings *conf.Settings, ownerID uint, paths []string) error {
	logger := logging.ForService("ingest")

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blobs, err := blobstore.New(ctx, settings)
	if err != nil {
		return err
	}

	p := pipeline.New(settings, store, blobs, nil)

	expanded, err := expandPaths(paths)
	if err != nil {
		return err
	}

	files := make([]pipeline.UploadedFile, 0, len(expanded))
	for _, path := range expanded {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, pipeline.UploadedFile{Data: data, Filename: filepath.Base(path)})
	}

	results := p.IngestBatch(ctx, ownerID, files)

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			logger.Error("ingestion failed", "filename", result.Filename, "error", result.Err)
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", result.Filename, result.Err)
			continue
		}
		fmt.Printf("OK   %s -> image %d, tags %v\n", result.Filename, result.Image.ID, result.Tags)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// expandPaths resolves directory arguments to the image files directly inside
// them; plain file arguments pass through unchanged.
func expandPaths(paths []string) ([]string, error) {
	var out []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(entry.Name())) {
			case ".jpg", ".jpeg", ".png", ".gif":
				out = append(out, filepath.Join(path, entry.Name()))
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no image files found in the given paths")
	}
	return out, nil
}
