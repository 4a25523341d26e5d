package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/qchat/qchat/api"
	"github.com/qchat/qchat/config"
	"github.com/qchat/qchat/globals"
	"github.com/qchat/qchat/store"
	"github.com/qchat/qchat/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "http service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()
	log.SetFlags(0)

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	st := store.NewWithHistorySize(cfg.HistoryConfig.MessageHistorySize)
	hub := ws.NewHub(st)
	go hub.Run()

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if cfg.StatsCron != "" {
		_, err := cronRunner.AddFunc(cfg.StatsCron, func() {
			s := st.Stats()
			globals.AppLogger.Info("store stats", "rooms", s.TotalRooms, "users", s.TotalUsers, "messages", s.TotalMessages)
		})
		if err != nil {
			globals.AppLogger.Error("invalid stats cron spec", "spec", cfg.StatsCron, "error", err)
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.ServeWS).Methods(http.MethodGet)
	api.Register(router, st)

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, router)
	} else {
		err = http.ListenAndServe(*addr, router)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}
