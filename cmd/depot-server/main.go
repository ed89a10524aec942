package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"github.com/ssd-technologies/depot/internal/collection"
	"github.com/ssd-technologies/depot/internal/config"
	"github.com/ssd-technologies/depot/internal/crypto"
	"github.com/ssd-technologies/depot/internal/server"
	"github.com/ssd-technologies/depot/internal/session"
	"github.com/ssd-technologies/depot/internal/storage"
	"github.com/ssd-technologies/depot/internal/transport"
	"github.com/ssd-technologies/depot/internal/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

func run() error {
	configPath := pflag.String("config", os.Getenv(config.EnvConfig), "path to YAML config file")
	listen := pflag.String("listen", "", "UDP address to listen on (overrides config)")
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	pflag.Parse()
	// glog reads its flags from the standard flag set.
	_ = goflag.CommandLine.Parse(nil)

	cfg, err := config.LoadServer(*configPath, os.Getenv)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tokens, err := session.New(crypto.SessionKey(cfg.Secret), session.WithTTL(cfg.TokenTTL))
	if err != nil {
		return err
	}
	store := collection.NewStore(db, collection.WithAdmin(cfg.Admin))
	auth := users.NewManager(db, tokens, session.DefaultIssuer).WithAdmin(store.Admin())
	if cfg.AdminPassword != "" {
		if err := auth.SeedAdmin(context.Background(), cfg.AdminPassword); err != nil {
			return err
		}
	} else {
		glog.Warningf("%s not set, admin login %q is disabled", config.EnvAdminPassword, store.Admin())
	}

	ln, err := transport.Listen(cfg.Listen)
	if err != nil {
		return err
	}
	srv := server.New(ln, store, auth, tokens, *cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Reload(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("load collection: %w", err)
	}
	srv.StartWorkers(ctx)

	glog.Infof("depot server on %s, %d vehicles loaded, tokens valid for %s", srv.Addr(), store.Len(), tokens.TTL())
	err = srv.Serve(ctx)
	glog.Info("Shutting down...")
	return err
}
