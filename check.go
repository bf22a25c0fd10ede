package main

import (
	"os"

	"github.com/urfave/cli"
)

var checkCommand = cli.Command{
	Name:      "check",
	Usage:     "validate a profile document and lint its syscall names",
	ArgsUsage: "[profile-path]",
	Description: `Validates the structure of a seccomp profile document and, when built with
libseccomp support, checks every syscall name against the host's syscall
table. Unknown names are usually typos or syscalls from another architecture;
they are reported but only fail the check under --strict.`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "strict",
			Usage: "fail when a syscall name is unknown to the host",
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
		unknown := lintSyscallNames(names)
		Logger(ctx).Debug("Profile checked",
			"path", path,
			"syscalls", len(names),
			"unknown", len(unknown),
			"lint_available", nameLintAvailable)

		NewReporter(os.Stdout).CheckReport(path, profile, names, unknown)

		if c.Bool("strict") && len(unknown) > 0 {
			return NewTrimError(ErrProfileFormat, "profile references unknown syscalls").
				WithContext("path", path).
				WithContext("unknown", len(unknown)).
				WithComponent("check")
		}
		return nil
	},
}
