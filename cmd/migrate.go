package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/DSync/pkg/dataset"
)

func cmdMigrate() *cli.Command {
	selfFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "bucket",
			Usage:    "catalog bucket holding the dataset",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "name",
			Usage:    "dataset name",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "tag",
			Usage: "migrate only this version; default is every legacy version",
		},
		&cli.StringSliceFlag{
			Name:  "label",
			Usage: "version labels reported on finish, key=value, repeatable",
		},
	}

	return &cli.Command{
		Name:     "migrate",
		Action:   migrate,
		Category: "ADMIN",
		Usage:    "Convert legacy versions to the manifest-based model",
		Description: `
			Lists each legacy version's objects directly, re-keys them by their own
			checksum into the content-addressed layout and writes a manifest.
			Safe to re-run: already migrated objects are skipped.

			Examples:
			$ dsync migrate --bucket ml --name corpus
			$ dsync migrate --bucket ml --name corpus --tag v1`,
		Flags: expandFlags(selfFlags, transferFlags()),
	}
}

func migrate(c *cli.Context) error {
	engine := setup(c)
	summary, err := engine.Migrate(c.Context, dataset.MigrateRequest{
		Bucket: c.String("bucket"),
		Name:   c.String("name"),
		Tag:    c.String("tag"),
		Labels: keyValues(c.StringSlice("label")),
	})
	if err != nil {
		return err
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("migration finished with %d failures", len(summary.Failures))
	}
	return nil
}
