package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apiclient"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/migration"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/syncqueue"
)

type LoginCmd struct {
	Email    string `long:"email" required:"true"`
	Password string `long:"password" env:"MOCKUPSUITE_PASSWORD" required:"true"`
}

func (c *LoginCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	tok, err := apiclient.New(opts.Server, "").IssueToken(ctx, c.Email, c.Password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir(), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(tokenFile(), []byte(tok.Token+"\n"), 0o600); err != nil {
		return err
	}
	fmt.Printf("logged in, token valid until %s\n", tok.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

type ProjectCmd struct {
	Create ProjectCreateCmd `command:"create" description:"Create a project"`
	Rename ProjectRenameCmd `command:"rename" description:"Rename a project"`
	Delete ProjectDeleteCmd `command:"delete" description:"Delete a project"`
	List   ProjectListCmd   `command:"list" description:"List projects"`
}

// target selects a saved project by id or a queued one by its temporary ref.
type target struct {
	ID  uint   `long:"id" description:"saved project id"`
	Ref string `long:"ref" description:"temporary ref of a queued project (tmp-...)"`
}

func (t target) ref() (syncqueue.Ref, error) {
	switch {
	case t.ID != 0 && t.Ref != "":
		return syncqueue.Ref{}, errors.New("use either --id or --ref")
	case t.ID != 0:
		return syncqueue.Committed(t.ID), nil
	case t.Ref != "":
		return syncqueue.Pending(t.Ref), nil
	}
	return syncqueue.Ref{}, errors.New("--id or --ref is required")
}

type ProjectCreateCmd struct {
	Name        string `long:"name" required:"true"`
	Description string `long:"description"`
}

func (c *ProjectCreateCmd) Execute(_ []string) error {
	return submit(syncqueue.EntityProject, syncqueue.ActionCreate, syncqueue.Ref{},
		apiclient.ProjectInput{Name: c.Name, Description: c.Description})
}

type ProjectRenameCmd struct {
	target
	Name        string `long:"name" required:"true"`
	Description string `long:"description"`
}

func (c *ProjectRenameCmd) Execute(_ []string) error {
	ref, err := c.ref()
	if err != nil {
		return err
	}
	return submit(syncqueue.EntityProject, syncqueue.ActionUpdate, ref,
		apiclient.ProjectInput{Name: c.Name, Description: c.Description})
}

type ProjectDeleteCmd struct {
	target
}

func (c *ProjectDeleteCmd) Execute(_ []string) error {
	ref, err := c.ref()
	if err != nil {
		return err
	}
	return submit(syncqueue.EntityProject, syncqueue.ActionDelete, ref, nil)
}

type ProjectListCmd struct{}

func (c *ProjectListCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	projects, err := newClient().ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Printf("%d\t%s\n", p.ID, p.Name)
	}
	return nil
}

type TemplateCmd struct {
	Create TemplateCreateCmd `command:"create" description:"Create a prompt template"`
}

type TemplateCreateCmd struct {
	Name     string `long:"name" required:"true"`
	Prompt   string `long:"prompt" required:"true"`
	Category string `long:"category"`
}

func (c *TemplateCreateCmd) Execute(_ []string) error {
	return submit(syncqueue.EntityTemplate, syncqueue.ActionCreate, syncqueue.Ref{},
		apiclient.TemplateInput{Name: c.Name, Prompt: c.Prompt, Category: c.Category})
}

func submit(entity syncqueue.Entity, action syncqueue.Action, ref syncqueue.Ref, payload interface{}) error {
	ctx, cancel := commandContext()
	defer cancel()
	q, closeQueue, err := openQueue()
	if err != nil {
		return err
	}
	defer closeQueue()

	change := syncqueue.Change{Entity: entity, Action: action, Target: ref}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		change.Payload = raw
	}
	sub, err := q.Submit(ctx, change)
	if err != nil {
		return err
	}
	if sub.Queued {
		fmt.Printf("offline: queued as %s (change %s)\n", sub.Target, sub.ChangeID)
		return nil
	}
	fmt.Printf("saved %s\n", sub.Target)
	return nil
}

type QueueCmd struct {
	Status  QueueStatusCmd  `command:"status" description:"Show pending changes and failures"`
	Replay  QueueReplayCmd  `command:"replay" description:"Replay pending changes now"`
	Retry   QueueReplayCmd  `command:"retry" description:"Alias of replay"`
	Dismiss QueueDismissCmd `command:"dismiss" description:"Dismiss a failed change"`
	Watch   QueueWatchCmd   `command:"watch" description:"Replay automatically whenever the API comes back"`
}

type QueueStatusCmd struct{}

func (c *QueueStatusCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	q, closeQueue, err := openQueue()
	if err != nil {
		return err
	}
	defer closeQueue()

	pending, err := q.Pending(ctx)
	if err != nil {
		return err
	}
	failures, err := q.Failures(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d pending\n", len(pending))
	for _, ch := range pending {
		line := fmt.Sprintf("  %s  %s  attempts=%d", ch.ID, ch.Describe(), ch.AttemptCount)
		if ch.LastError != "" {
			line += "  last error: " + ch.LastError
		}
		fmt.Println(line)
	}
	fmt.Printf("%d failed\n", len(failures))
	for _, f := range failures {
		fmt.Printf("  %s  %s  %s: %s\n", f.Change.ID, f.Change.Describe(), f.Kind, f.Message)
	}
	return nil
}

type QueueReplayCmd struct{}

func (c *QueueReplayCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	q, closeQueue, err := openQueue()
	if err != nil {
		return err
	}
	defer closeQueue()

	report, err := q.Retry(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d, failed %d, remaining %d\n", report.Applied, report.Failed, report.Remaining)
	return nil
}

type QueueDismissCmd struct {
	Args struct {
		ChangeID string `positional-arg-name:"change-id" required:"true"`
	} `positional-args:"true"`
}

func (c *QueueDismissCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	q, closeQueue, err := openQueue()
	if err != nil {
		return err
	}
	defer closeQueue()
	return q.Dismiss(ctx, c.Args.ChangeID)
}

type QueueWatchCmd struct {
	Interval time.Duration `long:"interval" default:"15s" description:"health probe interval"`
}

func (c *QueueWatchCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	q, closeQueue, err := openQueue()
	if err != nil {
		return err
	}
	defer closeQueue()

	m := syncqueue.NewMonitor(newClient().HealthURL(), c.Interval)
	m.OnChange(func(online bool) {
		state := "offline"
		if online {
			state = "online"
		}
		fmt.Printf("%s %s\n", time.Now().Format(time.TimeOnly), state)
	})
	q.Watch(ctx, m)
	m.Run(ctx)
	return nil
}

type MigrateCmd struct {
	File     string `long:"file" required:"true" description:"legacy export JSON"`
	NoBackup bool   `long:"no-backup" description:"skip the backup before uploading"`
}

func (c *MigrateCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	store := migration.NewLegacyStore(c.File)
	legacy, err := store.Load()
	if err != nil {
		return err
	}
	if legacy.Empty() {
		fmt.Println("nothing to migrate")
		return nil
	}
	if !c.NoBackup {
		backup, err := store.Backup()
		if err != nil {
			return fmt.Errorf("backup failed, nothing uploaded: %w", err)
		}
		fmt.Printf("backup written to %s\n", backup)
	}

	res, err := newClient().Migrate(ctx, legacy)
	if err != nil {
		return err
	}
	fmt.Println(res.Summary())
	for _, e := range res.Errors {
		fmt.Println("  " + e)
	}
	if !res.Success {
		return errors.New("migration did not complete, the local file is unchanged")
	}
	return nil
}

type BackupCmd struct {
	File string `long:"file" required:"true"`
	List bool   `long:"list" description:"list existing backups instead"`
}

func (c *BackupCmd) Execute(_ []string) error {
	store := migration.NewLegacyStore(c.File)
	if c.List {
		backups, err := store.Backups()
		if err != nil {
			return err
		}
		for _, b := range backups {
			fmt.Println(b)
		}
		return nil
	}
	path, err := store.Backup()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

type RestoreCmd struct {
	File   string `long:"file" required:"true"`
	Backup string `long:"backup" description:"backup to restore (default: newest)"`
}

func (c *RestoreCmd) Execute(_ []string) error {
	if err := migration.NewLegacyStore(c.File).Restore(c.Backup); err != nil {
		return err
	}
	fmt.Printf("restored %s\n", c.File)
	return nil
}
