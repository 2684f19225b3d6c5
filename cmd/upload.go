package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/DSync/pkg/dataset"
)

func cmdUpload() *cli.Command {
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
			Usage: "version tag for the new version",
			Value: "latest",
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
		Name:      "upload",
		Action:    upload,
		Category:  "TRANSFER",
		Usage:     "Create a dataset version from local and/or remote sources",
		ArgsUsage: "SOURCE [SOURCE...]",
		Description: `
			Each SOURCE is a local path, a local directory (append /* to take its
			contents instead of the directory itself) or a remote prefix like
			s3://bucket/prefix or minio://host:9000/bucket/prefix. When two sources
			carry the same relative path, the one listed first wins.

			Examples:
			$ dsync upload --bucket ml --name corpus --tag v3 /data/corpus
			$ dsync upload --bucket ml --name corpus /data/delta/* s3://mirror/corpus/*`,
		Flags: expandFlags(selfFlags, transferFlags()),
	}
}

func upload(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("upload requires at least one SOURCE argument")
	}
	engine := setup(c)
	summary, err := engine.Upload(c.Context, dataset.UploadRequest{
		Bucket:      c.String("bucket"),
		Name:        c.String("name"),
		Tag:         c.String("tag"),
		Description: c.String("description"),
		Metadata:    keyValues(c.StringSlice("metadata")),
		Labels:      keyValues(c.StringSlice("label")),
		Resume:      c.Bool("resume"),
		Sources:     c.Args().Slice(),
	})
	if err != nil {
		return err
	}
	if len(summary.Failures) > 0 {
		return fmt.Errorf("upload finished with %d failures", len(summary.Failures))
	}
	return nil
}
