package cmd

import (
	"errors"
	"fmt"

	"hlsgate/config"
	"hlsgate/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the videos and users tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DBDriver != config.DriverMySQL {
			return errors.New("migrate requires DB_DRIVER=mysql")
		}
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB(gdb)
		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}
		fmt.Printf("Schema up to date on %s:%s/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
