package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var sweepCommand = cli.Command{
	Name:  "sweep",
	Usage: "stop leftover target instances and delete stale candidate files",
	Description: `Stops every instance the harness ever launched, whether tracked by label
or found by image ancestry, and deletes candidate profile files a crashed run
may have left in the workdir. With --state the resume journal is deleted too,
discarding any resumable progress.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "state",
			Usage: "also delete the resume journal",
		},
	},
	Action: func(c *cli.Context) error {
		ctx, cfg, err := setupContext(c)
		if err != nil {
			return err
		}

		artifacts, err := NewArtifactManager(cfg.Artifacts)
		if err != nil {
			return err
		}

		harness := NewDockerHarness(cfg)
		if err := harness.StopAll(ctx); err != nil {
			return err
		}

		removed, err := artifacts.RemoveStaleCandidates()
		if err != nil {
			return err
		}
		Logger(ctx).Info("Swept stale candidates", "removed", removed)

		if c.Bool("state") {
			statePath := artifacts.StatePath()
			if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
				return WrapStateError(statePath, err)
			}
			Logger(ctx).Info("Removed resume journal", "path", statePath)
		}

		fmt.Println("sweep complete")
		return nil
	},
}
