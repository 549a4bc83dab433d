package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tifs-fs/tifs/internal/fsck"
	"github.com/tifs-fs/tifs/internal/kvtxn"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck <kv-endpoint>",
	Short: "Offline-check the invariants a TiFS keyspace must hold",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		client, err := kvtxn.NewTiKVClient(strings.Split(args[0], ","))
		if err != nil {
			return exitError{code: 3, err: fmt.Errorf("connecting to KV service: %w", err)}
		}
		defer client.Close()

		report, err := fsck.Check(context.Background(), client)
		if err != nil {
			return exitError{code: 3, err: err}
		}

		fmt.Printf("scanned %d inodes, %d index entries, %d blocks, %d handles\n",
			report.InodesScanned, report.IndexScanned, report.BlocksScanned, report.HandlesScanned)
		if report.OK() {
			fmt.Println("no violations found")
			return nil
		}
		for _, v := range report.Violations {
			fmt.Println(v.String())
		}
		return exitError{code: 3, err: fmt.Errorf("%d invariant violations found", len(report.Violations))}
	},
}
