package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/ditraheat/cmd/app"
	"github.com/Agrid-Dev/ditraheat/internal/account"
	httpctrl "github.com/Agrid-Dev/ditraheat/internal/controllers/http"
	modbusctrl "github.com/Agrid-Dev/ditraheat/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/ditraheat/internal/controllers/mqtt"
	"github.com/Agrid-Dev/ditraheat/internal/logger"
	"github.com/Agrid-Dev/ditraheat/schluter"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file")
	flag.Parse()

	if err := app.LoadDotEnv(envPath); err != nil {
		log.Fatal(err)
	}
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	lg := logger.New(cfg.Log.Level)
	defer func() { _ = lg.Sync() }()

	client := schluter.New(
		&http.Client{Timeout: cfg.Schluter.Timeout},
		schluter.WithBaseURL(cfg.Schluter.BaseURL),
		schluter.WithLogger(lg.Named("schluter")),
	)
	acct := account.New(client, account.Credentials{
		Username: cfg.Schluter.Username,
		Password: cfg.Schluter.Password,
	}, lg.Named("account"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := acct.Login(ctx); err != nil {
		lg.Fatalw("schluter login failed", "err", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if c := cfg.Controllers.HTTP; c.Enabled {
		srv := httpctrl.New(acct, c.Addr, lg.Named("http"))
		lg.Infow("http controller enabled", "addr", c.Addr)
		g.Go(func() error { return srv.Run(ctx) })
	}

	if c := cfg.Controllers.MQTT; c.Enabled {
		ctrl, err := mqttctrl.New(acct, mqttctrl.Config{
			BrokerURL:       c.BrokerURL,
			ClientID:        c.ClientID,
			BaseTopic:       c.BaseTopic,
			QoS:             c.QoS,
			RetainState:     c.RetainState,
			PublishInterval: c.PublishInterval,
			CommandTimeout:  c.CommandTimeout,
			Username:        c.Username,
			Password:        c.Password,
		}, lg.Named("mqtt"))
		if err != nil {
			lg.Fatalw("mqtt controller", "err", err)
		}
		g.Go(func() error { return ctrl.Run(ctx) })
	}

	if c := cfg.Controllers.Modbus; c.Enabled {
		ctrl, err := modbusctrl.New(acct, modbusctrl.Config{
			Addr:           c.Addr,
			Serials:        c.Serials,
			RequestTimeout: c.RequestTimeout,
		}, lg.Named("modbus"))
		if err != nil {
			lg.Fatalw("modbus controller", "err", err)
		}
		g.Go(func() error { return ctrl.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		lg.Errorw("controller exited", "err", err)
		os.Exit(1)
	}
	lg.Infow("shutdown complete")
}
