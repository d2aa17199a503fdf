package cmd

import (
	"context"
	"fmt"
	"time"

	"hlsgate/db"
	"hlsgate/repository"

	"github.com/spf13/cobra"
)

var redisPurge bool

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the catalog cache connection",
	Long:  `Ping Redis with the configured address and optionally purge every cached catalog entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		fmt.Println("Redis connection OK")

		if redisPurge {
			cache := repository.NewCachedVideoRepository(nil, rdb, cfg.CacheTTL)
			n, err := cache.Purge(ctx)
			if err != nil {
				return fmt.Errorf("failed to purge catalog cache: %w", err)
			}
			fmt.Printf("Removed %d cached catalog keys\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().BoolVar(&redisPurge, "purge", false, "delete cached catalog entries")
}
