package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xxxsen/ctxcache/internal/chunker"
	"github.com/xxxsen/ctxcache/internal/loader"
)

func newChunkCommand() *cobra.Command {
	opts := chunker.DefaultOptions()
	var alias string
	chunkCmd := &cobra.Command{
		Use:   "chunk <file-or-directory>",
		Short: "print the chunks of a local file or directory as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			resolver := loader.NewResolver(
				loader.NewFileLoader(loader.FileOptions{}),
				loader.NewDirLoader(loader.FileOptions{}),
			)
			src, err := resolver.Resolve(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			chunks := chunker.ChunkLoadedSource(ctx, src.Files, alias, opts)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(chunks)
		},
	}
	chunkCmd.Flags().StringVar(&alias, "alias", "", "alias recorded on every chunk")
	chunkCmd.Flags().IntVar(&opts.TargetTokens, "target-tokens", opts.TargetTokens, "preferred chunk size in tokens")
	chunkCmd.Flags().IntVar(&opts.OverlapTokens, "overlap-tokens", opts.OverlapTokens, "overlap between fixed windows in tokens")
	chunkCmd.Flags().IntVar(&opts.MaxTokens, "max-tokens", opts.MaxTokens, "hard chunk ceiling in tokens")
	return chunkCmd
}
