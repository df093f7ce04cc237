package main

import (
	"fmt"
	"sort"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/config"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/db"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/queue"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}
	cmd.AddCommand(newQueueStatsCmd())
	cmd.AddCommand(newQueueCancelCmd())
	return cmd
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show work-item counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			counts, err := q.CountByStatus()
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for status := range counts {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", status, counts[status])
			}
			return nil
		},
	}
}

func newQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <conversation-key>",
		Short: "Cancel all pending work for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(cmd)
			if err != nil {
				return err
			}
			if err := q.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled pending work for %s\n", args[0])
			return nil
		},
	}
}

func openQueue(cmd *cobra.Command) (*queue.Queue, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	return queue.New(queue.Opts{
		DB:            gdb,
		Owner:         cfg.InstanceID + "-cli",
		LeaseDuration: cfg.LeaseDuration(),
	})
}
