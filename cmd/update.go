package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/DSync/pkg/dataset"
)

func cmdUpdate() *cli.Command {
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
			Usage: "version tag for the updated version",
			Value: "latest",
		},
		&cli.StringFlag{
			Name:  "base-tag",
			Usage: "version to update from, defaults to --tag",
		},
		&cli.StringFlag{
			Name:  "remove",
			Usage: "drop retained paths matching this regular expression",
		},
		&cli.StringFlag{
			Name:  "description",
			Usage: "free-form version description",
		},
		&cli.StringSliceFlag{
			Name:  "metadata",
			Usage: "version metadata, key=value, repeatable",
		},
		&cli.StringSliceFlag{
			Name:  "label",
			Usage: "version labels reported on finish, key=value, repeatable",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "reuse the existing PENDING version and fill its gaps",
		},
	}

	return &cli.Command{
		Name:      "update",
		Action:    update,
		Category:  "TRANSFER",
		Usage:     "Derive a new dataset version from an existing one",
		ArgsUsage: "[SOURCE...]",
		Description: `
			Retains the base version's entries, overrides them with any SOURCE
			arguments and drops paths matching --remove. At least one SOURCE or
			--remove is required. Retained objects are not re-transferred.

			Examples:
			$ dsync update --bucket ml --name corpus --tag v4 --base-tag v3 /data/patch/*
			$ dsync update --bucket ml --name corpus --remove '.*\.tmp$'`,
		Flags: expandFlags(selfFlags, transferFlags()),
	}
}

func update(c *cli.Context) error {
	engine := setup(c)
	summary, err := engine.Update(c.Context, dataset.UpdateRequest{
		Bucket:      c.String("bucket"),
		Name:        c.String("name"),
		Tag:         c.String("tag"),
		BaseTag:     c.String("base-tag"),
		Description: c.String("description"),
		Metadata:    keyValues(c.StringSlice("metadata")),
		Labels:      keyValues(c.StringSlice("label")),
		Resume:      c.Bool("resume"),
		Sources:     c.Args().Slice(),
		RemoveRegex: c.String("remove"),
	})
	if err != nil {
		return err
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("update finished with %d failures", len(summary.Failures))
	}
	return nil
}
