package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/howeyc/gopass"
	cli "github.com/jawher/mow.cli"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/schmich/upspace/config"
	"github.com/schmich/upspace/storage"
	"github.com/schmich/upspace/upload"
	log "github.com/sirupsen/logrus"
)

type plainFormatter struct {
}

func (f *plainFormatter) Format(entry *log.Entry) ([]byte, error) {
	return []byte(entry.Message + "\n"), nil
}

func getInteractivePassword() ([]byte, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil, errors.New("encryption password is required (set UPSPACE_PASSWORD or --password)")
	}

	fmt.Fprintf(os.Stderr, "Password: ")
	return gopass.GetPasswd()
}

func parseDuration(name string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}

	return d, nil
}

func run(cfg config.Config, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return upload.Fail(upload.ClientInitError, errors.Wrap(err, "config"))
	}

	if cfg.Encrypt && cfg.Password == "" {
		password, err := getInteractivePassword()
		if err != nil {
			return upload.Fail(upload.ClientInitError, err)
		}
		cfg.Password = string(password)
	}

	ctx := context.Background()

	log.Debugf("Open %s storage.", cfg.Backend)
	client, err := storage.Open(ctx, cfg.Backend, storage.Options{
		Endpoint:     cfg.Endpoint,
		Directory:    cfg.StorageDir,
		LoginTimeout: cfg.LoginTimeout.Duration,
		PollInterval: cfg.PollInterval.Duration,
	})
	if err != nil {
		return upload.Fail(upload.ClientInitError, err)
	}

	_, err = upload.Run(ctx, client, cfg, stdout)
	return err
}

func main() {
	log.SetFormatter(&plainFormatter{})
	log.SetLevel(log.InfoLevel)
	log.SetOutput(os.Stderr)

	cfg := config.Default()
	if path, err := config.Path(); err == nil {
		if cfg, err = config.Load(path); err != nil {
			log.Fatalf("Error: %s", upload.Fail(upload.ClientInitError, err))
		}
	}

	app := cli.App("upspace", "Upload a file to a new storage space and print its CID")

	verbose := app.BoolOpt("v verbose", false, "Verbose output")
	space := app.String(cli.StringOpt{Name: "s space", Value: cfg.SpaceName, Desc: "Name of the space to create", EnvVar: "UPSPACE_SPACE"})
	file := app.String(cli.StringOpt{Name: "f file", Value: cfg.FilePath, Desc: "File to upload (- for stdin)", EnvVar: "UPSPACE_FILE"})
	name := app.String(cli.StringOpt{Name: "n name", Value: cfg.UploadFileName, Desc: "File name to upload as", EnvVar: "UPSPACE_NAME"})
	email := app.String(cli.StringOpt{Name: "e email", Value: cfg.AccountEmail, Desc: "Account email to log in with", EnvVar: "UPSPACE_EMAIL"})
	backend := app.String(cli.StringOpt{Name: "backend", Value: cfg.Backend, Desc: "Storage backend: http, fs or memory", EnvVar: "UPSPACE_BACKEND"})
	endpoint := app.String(cli.StringOpt{Name: "endpoint", Value: cfg.Endpoint, Desc: "Bridge endpoint for the http backend", EnvVar: "UPSPACE_ENDPOINT"})
	store := app.String(cli.StringOpt{Name: "store", Value: cfg.StorageDir, Desc: "Directory for the fs backend", EnvVar: "UPSPACE_STORE"})
	loginTimeout := app.String(cli.StringOpt{Name: "login-timeout", Value: cfg.LoginTimeout.String(), Desc: "Give up on login confirmation after this long (0 waits for the service)", EnvVar: "UPSPACE_LOGIN_TIMEOUT"})
	stream := app.Bool(cli.BoolOpt{Name: "stream", Value: cfg.Stream, Desc: "Stream the file instead of reading it into memory", EnvVar: "UPSPACE_STREAM"})
	encrypt := app.Bool(cli.BoolOpt{Name: "encrypt", Value: cfg.Encrypt, Desc: "Encrypt the payload with a password", EnvVar: "UPSPACE_ENCRYPT"})
	password := app.String(cli.StringOpt{Name: "p password", Value: cfg.Password, Desc: "Encryption password", EnvVar: "UPSPACE_PASSWORD", HideValue: true})

	app.Action = func() {
		if *verbose {
			log.SetLevel(log.DebugLevel)
		}

		timeout, err := parseDuration("login timeout", *loginTimeout)
		if err != nil {
			log.Fatalf("Error: %s", upload.Fail(upload.ClientInitError, err))
		}

		cfg.SpaceName = *space
		cfg.FilePath = *file
		cfg.UploadFileName = *name
		cfg.AccountEmail = *email
		cfg.Backend = *backend
		cfg.Endpoint = *endpoint
		cfg.StorageDir = *store
		cfg.LoginTimeout = config.Duration{Duration: timeout}
		cfg.Stream = *stream
		cfg.Encrypt = *encrypt
		cfg.Password = *password

		if err := run(cfg, os.Stdout); err != nil {
			log.Fatalf("Error: %s", err)
		}
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %s", err)
	}
}
