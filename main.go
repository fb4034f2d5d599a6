package main

import (
	"bufio"
	"context"
	"domofon/internal/api"
	"domofon/internal/cache"
	"domofon/internal/chat"
	"domofon/internal/config"
	"domofon/internal/delivery"
	"domofon/internal/draft"
	"domofon/internal/models"
	"domofon/internal/presence"
	"domofon/internal/realtime"
	"domofon/internal/storage"
	"errors"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	conversation := flag.String("conversation", "general", "Conversation to join")
	flag.Parse()

	cfg, err := config.Load(false)
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	restURL, err := apiBaseURL(cfg.ServerURL)
	if err != nil {
		return err
	}
	backend := api.New(restURL, cfg.Token)

	socket, err := realtime.Dial(ctx, cfg.ServerURL, cfg.Token)
	if err != nil {
		return err
	}

	mgr := realtime.NewManager(socket, realtime.Config{
		AutoReconnect:        true,
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
		BackoffBase:          cfg.ReconnectBase,
		BackoffCap:           cfg.ReconnectCap,
		OnStateChange: func(channel string, status realtime.Status) {
			log.Printf("Channel %s: %s", channel, status)
		},
	})
	defer func() { _ = mgr.Close() }()

	channel := mgr.Channel("conversation:" + *conversation)

	var messages *cache.MessageCache
	messages = cache.New(func(conversationID string) {
		list, err := backend.ListMessages(ctx, conversationID)
		if err != nil {
			log.Printf("Refetch of %s failed: %v", conversationID, err)
			return
		}
		messages.Replace(conversationID, list)
	})
	drafts := draft.NewStore(bbStorage, draft.Config{
		Key: models.DraftKey{
			UserID:         cfg.UserID,
			ConversationID: *conversation,
			DraftType:      models.DraftTypeCompose,
		},
		Debounce: cfg.DraftDebounce,
	})
	defer func() {
		drafts.Flush()
		drafts.Close()
	}()

	service := chat.NewService(chat.Config{
		UserID: cfg.UserID,
		Sender: backend,
		Cache:  messages,
		DiscardDraft: func(string) {
			drafts.Discard()
		},
	})
	defer service.Watch(channel)()

	tracker := presence.New(channel, presence.Config{
		UserID:    cfg.UserID,
		IdleAfter: cfg.IdleAfter,
		Heartbeat: cfg.Heartbeat,
	})
	defer tracker.Close()

	if err := mgr.Connect(channel.Name()); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return socket.Run(gCtx, mgr)
	})

	// Read lines from stdin and send them to the conversation. Every
	// line is fresh activity for presence and a draft until it is sent.
	g.Go(func() error {
		var lastDelivery *delivery.Tracker

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			tracker.Activity()
			drafts.Update(line, "")

			sent, err := service.Send(gCtx, *conversation, line)
			if err != nil {
				log.Printf("Send failed: %v", err)
				continue
			}

			if lastDelivery != nil {
				lastDelivery.Close()
			}
			dt := delivery.NewTracker(delivery.Config{
				MessageID:     sent.ID,
				SenderID:      sent.SenderID,
				CurrentUserID: cfg.UserID,
				Fetcher:       backend,
				Channel:       channel,
			})
			dt.Start(gCtx)
			lastDelivery = dt

			status, read, total := dt.Status()
			log.Printf("Sent %s (%s, %d/%d read)", sent.ID, status, read, total)
		}

		if lastDelivery != nil {
			lastDelivery.Close()
		}
		return scanner.Err()
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down...")
		return socket.Close()
	})

	return g.Wait()
}

// apiBaseURL maps the websocket endpoint onto the REST origin of the
// same server: ws(s)://host/ws becomes http(s)://host.
func apiBaseURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	return u.String(), nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
