package main

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli"
)

var catalogCommand = cli.Command{
	Name:      "catalog",
	Usage:     "list the syscalls of a profile in test order",
	ArgsUsage: "[profile-path]",
	Description: `Prints the deduplicated, sorted syscall catalog of a profile. Without an
argument the source profile from the workdir is used. The order shown here is
exactly the order minimize tests in.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "json",
			Usage: "emit the catalog as a JSON array",
		},
	},
	Action: func(c *cli.Context) error {
		ctx, cfg, err := setupContext(c)
		if err != nil {
			return err
		}

		path := c.Args().First()
		if path == "" {
			artifacts, err := NewArtifactManager(cfg.Artifacts)
			if err != nil {
				return err
			}
			path = artifacts.SourcePath()
		}

		profile, err := LoadProfile(path)
		if err != nil {
			return err
		}

		names := profile.AllSyscalls()
		Logger(ctx).Debug("Profile loaded", "path", path, "syscalls", len(names))

		if c.Bool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(names)
		}

		NewReporter(os.Stdout).CatalogListing(path, names)
		return nil
	},
}
