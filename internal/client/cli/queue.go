package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/syncbox/internal/common"
)

func (a *App) queueCmd() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline mutation queue",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show pending queue items",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				actions, err := a.queue.ListPending(cmd.Context())
				if err != nil {
					return err
				}
				if len(actions) == 0 {
					fmt.Println("queue is empty")
					return nil
				}
				for _, act := range actions {
					fmt.Printf("%s  %s %s/%s  attempts=%d\n",
						act.ID, act.Operation, act.EntityType, act.EntityID, act.Attempts)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "process",
			Short: "Deliver pending mutations to the server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := a.syncer.ProcessQueue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("synced: %d, failed: %d\n", res.Synced, res.Failed)
				for _, e := range res.Errors {
					fmt.Printf("error: %v\n", e)
				}
				if !res.Success {
					return common.ErrRemoteApply
				}
				return nil
			},
		},
		a.queuePruneCmd(),
	)

	return cmd
}

func (a *App) queuePruneCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old synced queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention := common.DefaultQueueRetention
			if cmd.Flags().Changed("days") {
				retention = time.Duration(days) * 24 * time.Hour
			}
			removed, err := a.queue.PruneSynced(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d items\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "retention period in days")
	return cmd
}
