package cmd

import (
	"fmt"

	"hlsgate/core/keys"

	"github.com/spf13/cobra"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the AES-128 segment key and its key-info file",
	Long: `Generate writes a random 16-byte key to KEY_PATH and the ffmpeg key-info
file to KEY_INFO_PATH. Existing keys are kept unless --force is given.
Rotating the key makes every previously encrypted segment unplayable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := keys.NewProvisioner(cfg)
		if err := p.Generate(keygenForce); err != nil {
			return err
		}
		fmt.Printf("Key written to %s\nKey info written to %s\n", cfg.KeyPath, p.KeyInfoPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().BoolVarP(&keygenForce, "force", "f", false, "overwrite an existing key")
}
