package cmd

import (
	"context"
	"errors"
	"fmt"

	"hlsgate/config"
	"hlsgate/core/auth"
	"hlsgate/db"
	"hlsgate/repository"

	"github.com/spf13/cobra"
)

var (
	adminUsername string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account, or promote an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminUsername == "" || adminPassword == "" {
			return errors.New("--username and --password are required")
		}
		if cfg.DBDriver == config.DriverMemory {
			return errors.New("create-admin needs a persistent database; set ADMIN_USERNAME for the in-memory catalog")
		}

		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB(gdb)
		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}

		created, err := auth.EnsureAdmin(context.Background(), repository.NewGormUserRepository(gdb), adminUsername, adminPassword)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Admin %q created\n", adminUsername)
		} else {
			fmt.Printf("Admin %q updated\n", adminUsername)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createAdminCmd)
	createAdminCmd.Flags().StringVarP(&adminUsername, "username", "u", "", "admin username")
	createAdminCmd.Flags().StringVarP(&adminPassword, "password", "p", "", "admin password")
}
