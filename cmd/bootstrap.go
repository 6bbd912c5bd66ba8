package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeitw/freeitw/internal/bootstrap"
	"github.com/freeitw/freeitw/internal/config"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision the sandbox root directory and check for required binaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBootstrap()
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	res, err := bootstrap.Run(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("work dir: %s\n", res.WorkDir)
	for _, d := range res.SandboxDirs {
		fmt.Printf("  sandbox dir: %s\n", d)
	}
	if len(res.MissingBinaries) > 0 {
		fmt.Println("missing required binaries:")
		for _, b := range res.MissingBinaries {
			fmt.Printf("  - %s\n", b)
		}
	}
	return nil
}
