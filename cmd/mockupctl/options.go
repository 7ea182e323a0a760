package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apiclient"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/syncqueue"
)

// Options is the root command. Sub-commands implement flags.Commander.
type Options struct {
	Server     string `long:"server" env:"MOCKUPSUITE_URL" default:"http://localhost:4000" description:"API base URL"`
	Token      string `long:"token" env:"MOCKUPSUITE_TOKEN" description:"bearer token or API key (default: saved login)"`
	QueueFile  string `long:"queue" env:"MOCKUPSUITE_QUEUE" description:"SQLite file for the offline queue"`
	QueueRedis string `long:"queue-redis" env:"MOCKUPSUITE_QUEUE_REDIS" description:"keep the offline queue in Redis instead (redis:// URL)"`

	Login    LoginCmd    `command:"login" description:"Exchange email and password for a token and save it"`
	Project  ProjectCmd  `command:"project" description:"Create, rename or delete projects"`
	Template TemplateCmd `command:"template" description:"Create prompt templates"`
	Queue    QueueCmd    `command:"queue" description:"Inspect and replay the offline queue"`
	Migrate  MigrateCmd  `command:"migrate" description:"Upload a legacy local export"`
	Backup   BackupCmd   `command:"backup" description:"Back up a legacy export file"`
	Restore  RestoreCmd  `command:"restore" description:"Restore a legacy export from a backup"`

	Integration IntegrationCmd `command:"integration" description:"List and connect third-party integrations"`
}

var opts Options

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mockupsuite")
	}
	return ".mockupsuite"
}

func tokenFile() string {
	return filepath.Join(configDir(), "token")
}

func token() string {
	if opts.Token != "" {
		return opts.Token
	}
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func newClient() *apiclient.Client {
	return apiclient.New(opts.Server, token())
}

// openQueue returns the queue and a close func for its store.
func openQueue() (*syncqueue.Queue, func(), error) {
	var store syncqueue.Store
	if opts.QueueRedis != "" {
		ro, err := redis.ParseURL(opts.QueueRedis)
		if err != nil {
			return nil, nil, fmt.Errorf("queue redis url: %w", err)
		}
		rdb := redis.NewClient(ro)
		store = syncqueue.NewRedisStore(rdb, "mockupctl:")
	} else {
		path := opts.QueueFile
		if path == "" {
			if err := os.MkdirAll(configDir(), 0o700); err != nil {
				return nil, nil, err
			}
			path = filepath.Join(configDir(), "queue.db")
		}
		s, err := syncqueue.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		store = s
	}
	q := syncqueue.New(store, newClient())
	return q, func() { _ = store.Close() }, nil
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
