package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/bot"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/config"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/dashboard"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/db"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/dispatch"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify"
	discordnotify "github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify/discord"
	slacknotify "github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify/slack"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/queue"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/routing"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/send"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var sender send.Sender // a provider adapter is injected per deployment

	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing service",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if sender == nil {
				sender = send.NewMockSender()
				log.Printf("serve: no provider adapter configured, using recording sender")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, sender, cmd.OutOrStdout())
		},
	}
}

// runServe wires the queue, worker pool, routing pipeline, bot engine,
// coordinator, dashboard and recurring sweeps, then blocks until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, sender send.Sender, out io.Writer) error {
	gdb, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	q, err := queue.New(queue.Opts{
		DB:            gdb,
		Owner:         cfg.InstanceID,
		LeaseDuration: cfg.LeaseDuration(),
	})
	if err != nil {
		return err
	}

	conversations := store.NewConversations(gdb)
	presence := store.NewPresence(gdb)
	directory, err := store.NewDirectory(gdb)
	if err != nil {
		return err
	}
	surveys := store.NewSurveys(gdb)

	pipelines, err := routing.NewBuilder(gdb, presence)
	if err != nil {
		return err
	}

	broadcaster, err := buildBroadcaster(cfg.Notify)
	if err != nil {
		return err
	}

	coordinator, err := dispatch.NewCoordinator(dispatch.CoordinatorOpts{
		Config:        cfg,
		Queue:         q,
		Conversations: conversations,
		Presence:      presence,
		Pipelines:     pipelines,
		Sender:        sender,
		Broadcaster:   broadcaster,
	})
	if err != nil {
		return err
	}

	sessions, err := bot.NewStore(bot.StoreOpts{
		DB:            gdb,
		FlushDebounce: time.Duration(cfg.Bot.FlushDebounceMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	if err := sessions.Load(); err != nil {
		return err
	}

	surveyDialog, err := bot.NewSurveyDialog(surveys, cfg.Bot.SurveyQuestions)
	if err != nil {
		return err
	}
	identityDialog, err := bot.NewIdentityDialog(directory)
	if err != nil {
		return err
	}
	engine, err := bot.NewEngine(bot.EngineOpts{
		Store:          sessions,
		Actions:        coordinator,
		Dialogs:        []bot.Dialog{bot.NewMenuDialog(), surveyDialog, identityDialog},
		SessionTimeout: time.Duration(cfg.Bot.SessionTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	coordinator.AttachBotEngine(engine)

	pool, err := queue.NewPool(queue.PoolOpts{
		Queue:        q,
		Handler:      coordinator.HandleWorkItem,
		MaxKeys:      cfg.Queue.MaxConcurrentKeys,
		PollInterval: cfg.PollInterval(),
	})
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer pool.Stop()

	watchdog, err := bot.NewWatchdog(bot.WatchdogOpts{Engine: engine})
	if err != nil {
		return err
	}
	go watchdog.Run(ctx)

	// Recurring maintenance: lease-reclaim backstop and failed-item purge.
	// The worker pool reclaims before each round too; this covers idle gaps.
	sweeps := cron.New()
	sweeps.AddFunc("@every 1m", func() {
		if _, err := q.ReclaimExpiredLeases(); err != nil {
			log.Printf("serve: reclaim sweep: %v", err)
		}
	})
	retention := time.Duration(cfg.Queue.FailedRetentionH) * time.Hour
	sweeps.AddFunc("@hourly", func() {
		if n, err := q.PurgeTerminal(retention); err != nil {
			log.Printf("serve: purge sweep: %v", err)
		} else if n > 0 {
			log.Printf("serve: purged %d terminal items", n)
		}
	})
	sweeps.Start()
	defer sweeps.Stop()

	fmt.Fprintf(out, "wservice running [instance=%s workers=%d poll=%s]\n",
		cfg.InstanceID, cfg.Queue.MaxConcurrentKeys, cfg.PollInterval())

	err = dashboard.Start(ctx, dashboard.StartOpts{
		DB:       gdb,
		Queue:    q,
		Sessions: sessions,
		Port:     cfg.Dashboard.Port,
		Out:      out,
	})

	// Flush any debounced session state before exiting.
	if ferr := sessions.Flush(); ferr != nil {
		log.Printf("serve: final session flush: %v", ferr)
	}
	return err
}

// buildBroadcaster assembles the configured notification adapters.
func buildBroadcaster(cfg config.NotifyConfig) (notify.Broadcaster, error) {
	var adapters []notify.Broadcaster
	if cfg.SlackToken != "" {
		sb, err := slacknotify.New(slacknotify.Opts{
			Token:          cfg.SlackToken,
			DefaultChannel: cfg.SlackChannel,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, sb)
	}
	if cfg.DiscordToken != "" {
		dcb, err := discordnotify.New(discordnotify.Opts{
			Token:          cfg.DiscordToken,
			DefaultChannel: cfg.DiscordChannel,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, dcb)
	}
	return notify.NewMulti(adapters...), nil
}
