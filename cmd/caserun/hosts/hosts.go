// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package hosts implements the hosts command, which validates a cluster host
// file.
package hosts

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/urfave/cli/v3"
)

const (
	fileArg    = "file"
	cliExitStr = ""
)

// HostsCmd validates a host file and lists its hosts.
var HostsCmd = &cli.Command{
	Name:  "hosts",
	Usage: "Check a cluster host file",
	Description: `Parse an OpenMPI style host file and list its hosts and slots.
Every malformed line is reported.`,
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name:      fileArg,
			UsageText: "HOSTFILE",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		logger := ctxlog.Logger(ctx).With("command", cmd.Name)

		path := cmd.StringArg(fileArg)
		if path == "" {
			logger.Error("Please provide a host file")
			return cli.Exit(cliExitStr, 1)
		}

		hosts, err := dispatch.ReadHostFile(path)
		if err != nil {
			logger.Error(fmt.Sprintf("%s: %s", path, err.Error()))
			return cli.Exit(cliExitStr, 1)
		}

		if err := Write(cmd.Root().Writer, hosts); err != nil {
			return cli.Exit(err.Error(), 1)
		}

		return nil
	},
}

// Write prints hosts as a table followed by the slot total.
func Write(w io.Writer, hosts dispatch.HostList) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("HOST", "SLOTS")

	for _, h := range hosts {
		slots := "1"
		if h.Slots > 0 {
			slots = strconv.Itoa(h.Slots)
		}

		t.Row(h.Name, slots)
	}

	_, err := fmt.Fprintf(w, "%s\n%d hosts, %d slots\n", t.String(), len(hosts), hosts.Slots())

	return err //nolint:wrapcheck
}
