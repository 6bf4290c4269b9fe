package main

import (
	"net/http"
	"os"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/mitchellh/go-homedir"
	"github.com/schmich/upspace/server"
	"github.com/schmich/upspace/storage"
	log "github.com/sirupsen/logrus"
)

func main() {
	app := cli.App("upspaced", "Local storage bridge for upspace")
	log.SetLevel(log.InfoLevel)
	log.SetOutput(os.Stderr)

	listen := app.String(cli.StringOpt{Name: "l listen", Value: "127.0.0.1:8420", Desc: "Address to listen on", EnvVar: "UPSPACED_LISTEN"})
	store := app.String(cli.StringOpt{Name: "store", Value: "~/.upspace.d/bridge", Desc: "Storage directory (empty keeps everything in memory)", EnvVar: "UPSPACED_STORE"})
	autoConfirm := app.Bool(cli.BoolOpt{Name: "auto-confirm", Value: false, Desc: "Confirm logins without waiting for /access/confirm", EnvVar: "UPSPACED_AUTO_CONFIRM"})
	ttl := app.String(cli.StringOpt{Name: "ttl", Value: server.DefaultRequestTTL.String(), Desc: "How long login requests stay valid", EnvVar: "UPSPACED_TTL"})
	verbose := app.BoolOpt("v verbose", false, "Verbose output")

	app.Action = func() {
		if *verbose {
			log.SetLevel(log.DebugLevel)
		}

		requestTTL, err := time.ParseDuration(*ttl)
		if err != nil {
			log.Fatalf("Error: invalid ttl: %s", err)
		}

		var backend storage.Client
		if *store == "" {
			backend = storage.NewInMemoryClient()
		} else {
			directory, err := homedir.Expand(*store)
			if err != nil {
				log.Fatalf("Error: %s", err)
			}

			if backend, err = storage.NewFilesystemClient(directory); err != nil {
				log.Fatalf("Error: %s", err)
			}
			log.Infof("Storing in %s.", directory)
		}

		bridge := server.New(backend, server.Options{AutoConfirm: *autoConfirm, RequestTTL: requestTTL})

		log.Infof("Listening on %s.", *listen)
		if err := http.ListenAndServe(*listen, bridge); err != nil {
			log.Fatalf("Error: %s", err)
		}
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %s", err)
	}
}
