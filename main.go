package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quilldav/quill/pkg/cache"
	"github.com/quilldav/quill/pkg/conf"
	"github.com/quilldav/quill/pkg/dav"
	"github.com/quilldav/quill/pkg/events"
	"github.com/quilldav/quill/pkg/logging"
	"github.com/quilldav/quill/pkg/tree"
	"github.com/quilldav/quill/routers"
)

var confPath string

func init() {
	flag.StringVar(&confPath, "c", "conf/conf.ini", "Path to the config file")
}

func main() {
	flag.Parse()

	l := logging.NewConsoleLogger(logging.LevelInformational)
	cp, err := conf.NewIniConfigProvider(confPath, l)
	if err != nil {
		l.Panic("Failed to load config: %s", err)
	}
	l = logging.NewConsoleLogger(logging.LogLevel(cp.System().LogLevel))
	if !cp.System().Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	store := cache.NewMemoStore()
	bus := events.NewBus()
	t := tree.NewMemTree(cp.DAV().Quota)
	sync := dav.NewSyncExtension(t, store, bus)

	handler, err := dav.New(t, bus, cp, l, sync)
	if err != nil {
		l.Panic("Failed to initialize DAV handler: %s", err)
	}

	api := routers.InitRouter(handler, cp, l)
	server := &http.Server{
		Addr:    cp.System().Listen,
		Handler: api,
	}

	go func() {
		l.Info("Listening on %q, DAV prefix %q.", cp.System().Listen, cp.DAV().Prefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Panic("Failed to listen on %q: %s", cp.System().Listen, err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	grace := time.Duration(cp.System().GracePeriod) * time.Second
	if grace == 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	l.Info("Shutting down...")
	if err := server.Shutdown(ctx); err != nil {
		l.Error("Failed to shut down gracefully: %s", err)
	}
}
