package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trly/msirepo/internal/importer"
)

// UploadCommand represents the upload command.
type UploadCommand struct {
	unitType     string
	checksum     string
	checksumType string
}

// GetCobraCommand returns the cobra command for uploading local packages.
func (c *UploadCommand) GetCobraCommand() *cobra.Command {
	uploadCmd := &cobra.Command{
		Use:   "upload REPO FILE...",
		Short: "Add local installer files to a repository",
		Long: `Add local installer files to a repository.

The package type is taken from the file extension unless --type is given.
A declared --checksum must match the file; otherwise the checksum is computed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd)
			repoID, files := args[0], args[1:]

			if c.checksum != "" && len(files) > 1 {
				return errors.New("--checksum applies to a single file")
			}
			if err := app.Validator.Directories(app.Config.StorageDir); err != nil {
				return err
			}

			failed := 0
			for _, path := range files {
				t := c.unitType
				if t == "" {
					t = typeFromExtension(path)
				}

				r := app.Importer.Upload(cmd.Context(), importer.Upload{
					RepoID:       repoID,
					Type:         t,
					Path:         path,
					Checksum:     c.checksum,
					ChecksumType: c.checksumType,
				})
				if err := printReport(cmd.OutOrStdout(), app.OutputFormat, "upload "+filepath.Base(path), r); err != nil {
					return err
				}
				if !r.Success {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(files))
			}
			return nil
		},
	}

	uploadCmd.Flags().StringVarP(&c.unitType, "type", "t", "", "Package type (msi or msm)")
	uploadCmd.Flags().StringVar(&c.checksum, "checksum", "", "Expected checksum of the file")
	uploadCmd.Flags().StringVar(&c.checksumType, "checksum-type", "", "Checksum algorithm (defaults to the configured one)")

	return uploadCmd
}

// typeFromExtension maps "setup.MSI" to "msi". Unknown extensions are
// passed through for the importer to reject.
func typeFromExtension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
