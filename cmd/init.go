package cmd

import (
	"fmt"
	"os"

	"custodia/internal/backup"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starting configuration file",
	Long: `Writes a configuration file populated with defaults, ready to edit.
The file is created with owner-only permissions.`,
	RunE: runInit,
}

var (
	initOut   string
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initOut, "out", "custodia.yaml", "path of the configuration file to write")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	if !initForce {
		if _, err := os.Stat(initOut); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", initOut)
		}
	}

	config, err := backup.LoadSystemConfig("")
	if err != nil {
		return err
	}

	if err := backup.SaveSystemConfig(config, initOut); err != nil {
		return err
	}

	out.Success(fmt.Sprintf("Wrote %s", initOut))
	out.Info("Edit the storage and database sections before the first backup run")
	return nil
}
