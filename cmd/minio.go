package cmd

import (
	"context"
	"fmt"

	"hlsgate/storage"

	"github.com/spf13/cobra"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Check the media bucket and report its usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := context.Background()
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return err
		}
		objects, size, err := store.Usage(ctx, minioPrefix)
		if err != nil {
			return err
		}
		fmt.Printf("%d objects, %.2f MB below %q\n", objects, float64(size)/(1<<20), minioPrefix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "only count objects below this video ID or path")

	minioCmd.Example = `  # whole bucket
  hlsgate minio

  # one video
  hlsgate minio -p "Lecture1_1700000000000/"`
}
