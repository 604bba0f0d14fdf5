package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CoopDesk/CoopDesk/internal/answer"
	"github.com/CoopDesk/CoopDesk/internal/bus"
	"github.com/CoopDesk/CoopDesk/internal/channels"
	"github.com/CoopDesk/CoopDesk/internal/config"
	"github.com/CoopDesk/CoopDesk/internal/events"
	"github.com/CoopDesk/CoopDesk/internal/notify"
	"github.com/CoopDesk/CoopDesk/internal/panel"
	"github.com/CoopDesk/CoopDesk/internal/router"
	"github.com/CoopDesk/CoopDesk/internal/store"
	"github.com/CoopDesk/CoopDesk/internal/worker"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the support gateway (WhatsApp, panel API, workers)",
	Run:   runGateway,
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("CoopDesk Gateway")
	fmt.Println("Starting CoopDesk Gateway...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		fmt.Println("Warning: no OpenAI API key configured; answer generation will fail")
	}

	// The router and the heavy-query pool each own a store handle so a
	// long-running background task never starves the request path.
	routerStore, err := store.New(cfg.StorePath())
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer routerStore.Close()

	workerStore, err := store.New(cfg.StorePath())
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer workerStore.Close()

	gen := answer.NewOpenAIGenerator(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Model.Name)

	msgBus := bus.NewMessageBus()
	wa := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, cfg.MediaDir(), msgBus)

	pool := worker.NewPool(worker.Options{
		Store:         workerStore,
		Generator:     gen,
		Transport:     wa,
		Instructions:  cfg.Model.Instructions,
		PoolSize:      cfg.Worker.PoolSize,
		QueueSize:     cfg.Worker.QueueSize,
		AnswerTimeout: cfg.Worker.AnswerTimeout,
	})

	publisher := events.NewPublisher(cfg.Events)
	var notifiers []router.Notifier
	if slackNotifier := notify.NewSlackNotifier(cfg.Notify.Slack); slackNotifier != nil {
		notifiers = append(notifiers, slackNotifier)
		fmt.Println("Slack escalation notices enabled")
	}
	if publisher != nil {
		notifiers = append(notifiers, publisher)
		defer publisher.Close()
		fmt.Println("Conversation event stream enabled:", cfg.Events.Topic)
	}

	rt := router.New(router.Options{
		Store:         routerStore,
		Generator:     gen,
		Tasks:         pool,
		Notifiers:     notifiers,
		Instructions:  cfg.Model.Instructions,
		HistoryWindow: cfg.Router.HistoryWindow,
		AnswerTimeout: cfg.Router.AnswerTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := wa.Start(ctx); err != nil {
		fmt.Printf("Failed to start WhatsApp: %v\n", err)
	}
	defer wa.Stop()

	go msgBus.DispatchOutbound(ctx)
	go pool.Run(ctx)

	// Staff panel API
	var eventSink panel.EventSink
	if publisher != nil {
		eventSink = publisher
	}
	panelAPI := panel.New(panel.Options{
		Store:     routerStore,
		Transport: wa,
		Events:    eventSink,
		Token:     cfg.Panel.Token,
	})
	panelSrv := &http.Server{
		Addr:    cfg.Panel.Listen,
		Handler: panelAPI.Handler(),
	}
	go func() {
		fmt.Printf("Panel API listening on http://%s\n", cfg.Panel.Listen)
		if err := panelSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Panel server error: %v\n", err)
		}
	}()

	// Inbound loop: each customer message is routed on its own goroutine,
	// bounded by the semaphore so a burst cannot exhaust the process.
	go func() {
		sem := worker.NewSemaphore(cfg.Router.MaxInFlight)
		for {
			msg, err := msgBus.ConsumeInbound(ctx)
			if err != nil {
				return
			}
			if err := sem.Acquire(ctx); err != nil {
				return
			}
			go func(msg *bus.InboundMessage) {
				defer sem.Release()
				reply := rt.HandleInbound(ctx, msg.Address, msg.Text, msg.Media)
				if reply == "" {
					return
				}
				msgBus.PublishOutbound(&bus.OutboundMessage{
					Channel: msg.Channel,
					Address: msg.Address,
					TraceID: msg.TraceID,
					Body:    reply,
				})
			}(msg)
		}
	}()

	slog.Info("Gateway running", "panel", cfg.Panel.Listen, "whatsapp", cfg.Channels.WhatsApp.Enabled)

	<-sigChan
	fmt.Println("\nShutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := panelSrv.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Panel shutdown error: %v\n", err)
	}
}
