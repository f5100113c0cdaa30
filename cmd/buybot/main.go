package main

import (
	"log"

	"github.com/0xBitWishper/buybots/bot/app"
	"github.com/0xBitWishper/buybots/core/bootstrap"
	"github.com/0xBitWishper/buybots/core/buildinfo"
	corecmd "github.com/0xBitWishper/buybots/core/cmd"
	coreconfig "github.com/0xBitWishper/buybots/core/config"
	coretelegram "github.com/0xBitWishper/buybots/core/telegram"
)

type carrier struct {
	cfg *coreconfig.Config
}

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type application struct {
	app *app.App
}

func (a *application) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return a.app.RunOptions(), nil
}

func main() {
	log.Printf("buybot %s (%s)", buildinfo.Version, buildinfo.Commit)

	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := coreconfig.Load(path)
			if err != nil {
				return nil, err
			}
			return carrier{cfg: cfg}, nil
		},
		Bootstrap: func(cc corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg := cc.CoreConfig()
			res, err := bootstrap.Run(bootstrap.Options{Config: cfg})
			if err != nil {
				return nil, err
			}
			return &application{app: app.New(cfg, res.DB)}, nil
		},
	})
	if err != nil {
		log.Fatalf("buybot exited: %v", err)
	}
}
