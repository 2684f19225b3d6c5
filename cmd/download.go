package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/DSync/pkg/dataset"
)

func cmdDownload() *cli.Command {
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
			Usage: "version tag to download",
			Value: "latest",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "continue into a non-empty destination, skipping complete files",
		},
	}

	return &cli.Command{
		Name:      "download",
		Action:    download,
		Category:  "TRANSFER",
		Usage:     "Materialize a dataset version into a local directory",
		ArgsUsage: "DEST",
		Description: `
			Fetches the version's manifest and writes every entry under DEST.
			Versions without a manifest must be migrated first.

			Examples:
			$ dsync download --bucket ml --name corpus --tag v3 /data/corpus
			$ dsync download --bucket ml --name corpus --resume /data/corpus`,
		Flags: expandFlags(selfFlags, transferFlags()),
	}
}

func download(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("download requires exactly one DEST argument")
	}
	engine := setup(c)
	summary, err := engine.Download(c.Context, dataset.DownloadRequest{
		Bucket: c.String("bucket"),
		Name:   c.String("name"),
		Tag:    c.String("tag"),
		Dest:   c.Args().First(),
		Resume: c.Bool("resume"),
	})
	if err != nil {
		return err
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("download finished with %d failures", len(summary.Failures))
	}
	return nil
}
