package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/syncbox/internal/common"
)

func (a *App) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one pull-then-push cycle against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.syncer.Synchronize(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("applied: %d, skipped: %d, pushed: %d\n", res.Applied, res.Skipped, res.Pushed)
			if res.Queue != nil {
				fmt.Printf("queue: %d synced, %d failed\n", res.Queue.Synced, res.Queue.Failed)
			}
			if !res.Success {
				for _, e := range res.Errors {
					fmt.Printf("error: %v\n", e)
				}
				return common.ErrRemoteApply
			}
			return nil
		},
	}
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local sync state and, when reachable, the server ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			md, err := a.device.Metadata(ctx)
			if err != nil {
				return err
			}
			pending, err := a.queue.CountPending(ctx)
			if err != nil {
				return err
			}
			logSize, err := a.device.LogSize(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("device: %s\n", md.DeviceID)
			fmt.Printf("user: %s\n", md.UserID)
			fmt.Printf("last sync: %d\n", md.LastSyncTimestamp)
			fmt.Printf("last push: %d\n", md.LastPushTimestamp)
			fmt.Printf("pending queue items: %d\n", pending)
			fmt.Printf("change log entries: %d\n", logSize)

			st, err := a.api.Status(ctx, md.DeviceID)
			if err != nil {
				fmt.Println("server: unreachable")
				return nil
			}
			fmt.Printf("server records: %d total, %d from this device\n", st.TotalRecords, st.DeviceRecords)
			return nil
		},
	}
}
