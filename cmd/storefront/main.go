package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookmarket/internal/cart"
	"bookmarket/internal/catalog"
	"bookmarket/internal/chat"
	"bookmarket/internal/config"
	"bookmarket/internal/gateway"
	"bookmarket/internal/notify"
	"bookmarket/internal/orders"
	"bookmarket/internal/realtime"
	"bookmarket/internal/session"
	"bookmarket/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	gw := gateway.New(cfg.BaseURL, 0, logger)

	var persist session.Persister
	if cfg.RedisAddr != "" {
		deviceID := cfg.DeviceID
		if deviceID == "" {
			deviceID = util.NewID()
			logger.Info("generated device id", "device", deviceID)
		}
		persist = session.NewRedisPersister(cfg.RedisAddr, cfg.RedisPassword, deviceID, 30*24*time.Hour)
	} else {
		persist = session.NewFilePersister(cfg.SessionFile)
	}

	notifier := &notify.LogNotifier{Logger: logger}
	sessions := session.NewStore(gw, persist, logger)
	carts := cart.New(gw, sessions, notifier, cfg.CartItemPath, logger)
	pipeline := catalog.New(gw, sessions, cfg.PageSize, catalog.DebounceDelay, logger)
	history := chat.NewHistory(gw, sessions, logger)
	orderClient := orders.New(gw, sessions, carts, logger)

	channel := realtime.New(cfg.BaseURL, cfg.WSPath, sessions, notifier, realtime.ReconnectDelay, logger)
	channel.OnMessage(history.Append)
	channel.Bind()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Bind fires on restore too, so a restored session reconnects the
	// realtime channel without an explicit Connect here.
	sessions.Restore()
	if sessions.Token() != "" {
		if err := carts.Refresh(ctx); err != nil {
			logger.Warn("cart refresh failed", "err", err)
		}
		if list, err := orderClient.List(ctx); err != nil {
			logger.Warn("order list failed", "err", err)
		} else {
			logger.Info("orders loaded", "count", len(list))
		}
		if err := history.Load(ctx); err != nil {
			logger.Warn("chat history load failed", "err", err)
		}
	}

	if err := pipeline.LoadCategories(ctx); err != nil {
		logger.Warn("category load failed", "err", err)
	}
	if err := pipeline.Fetch(ctx); err != nil {
		logger.Error("catalog fetch failed", "err", err)
	} else {
		res := pipeline.Snapshot()
		slog.Info("catalog ready", "books", len(res.Books), "total", res.Total, "pages", res.TotalPages)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	channel.Close()
	logger.Info("storefront shutting down")
}
