package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apiclient"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
)

type IntegrationCmd struct {
	List    IntegrationListCmd    `command:"list" description:"List integrations and their connection state"`
	Connect IntegrationConnectCmd `command:"connect" description:"Connect an integration in the browser"`
}

type IntegrationListCmd struct{}

func (c *IntegrationListCmd) Execute(_ []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	list, err := newClient().ListIntegrations(ctx)
	if err != nil {
		return err
	}
	for _, in := range list {
		state := "-"
		if in.Connected {
			state = "connected"
		}
		fmt.Printf("%-14s %-10s %s\n", in.Slug, in.Status, state)
	}
	return nil
}

type IntegrationConnectCmd struct {
	Shop      string        `long:"shop" description:"shop domain (shopify only)"`
	Timeout   time.Duration `long:"timeout" default:"5m" description:"how long to wait for the authorization"`
	NoBrowser bool          `long:"no-browser" description:"only print the authorization URL"`
	Args      struct {
		Slug string `positional-arg-name:"slug" required:"yes"`
	} `positional-args:"yes"`
}

// Execute runs the popup flow with the system browser as the popup. The
// server's handshake long-poll stands in for window messages and Ctrl-C
// counts as closing the window.
func (c *IntegrationConnectCmd) Execute(_ []string) error {
	slug := c.Args.Slug
	client := newClient()
	settings := map[string]string{}
	if c.Shop != "" {
		settings[oauth.SettingShop] = c.Shop
	}

	ctx := context.Background()
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	messages := oauth.NewMessageChannel(opts.Server)
	opener := &browserOpener{
		ctx:       pollCtx,
		client:    client,
		slug:      slug,
		origin:    opts.Server,
		messages:  messages,
		noBrowser: c.NoBrowser,
	}
	flow := &oauth.PopupFlow{
		Initiate: func(ctx context.Context) (*oauth.Authorization, error) {
			auth, err := client.Connect(ctx, slug, settings)
			if err == nil {
				opener.state = auth.State
			}
			return auth, err
		},
		Opener:   opener,
		Messages: messages,
		Verify: func(ctx context.Context) error {
			return verifyConnected(ctx, client, slug)
		},
		Timeout: c.Timeout,
	}

	h := oauth.NewHandshake(slug)
	err := flow.Run(ctx, h)
	switch {
	case err == nil:
		fmt.Printf("%s connected\n", slug)
		return nil
	case apperror.KindOf(err) == apperror.KindOAuthCancelled:
		fmt.Println("authorization cancelled")
		return nil
	}
	return fmt.Errorf("%s: %w", h.Phase(), err)
}

func verifyConnected(ctx context.Context, client *apiclient.Client, slug string) error {
	list, err := client.ListIntegrations(ctx)
	if err != nil {
		return err
	}
	for _, in := range list {
		if in.Slug == slug && in.Connected {
			return nil
		}
	}
	return apperror.Newf(apperror.KindIntegrationDisconnected, "%s is not connected", slug)
}

// browserOpener opens the authorization URL and relays the server-side
// handshake outcome into the message channel.
type browserOpener struct {
	ctx       context.Context
	client    *apiclient.Client
	slug      string
	state     string
	origin    string
	messages  *oauth.MessageChannel
	noBrowser bool
}

func (o *browserOpener) Open(_ context.Context, url string) (oauth.Window, error) {
	fmt.Printf("Open this URL to authorize %s:\n\n  %s\n\n", o.slug, url)
	if !o.noBrowser {
		if err := openBrowser(url); err != nil {
			fmt.Fprintf(os.Stderr, "could not start a browser: %v\n", err)
		}
	}

	win := oauth.NewFlagWindow()
	go o.watchInterrupt(win)
	go o.relay(win)
	return win, nil
}

func (o *browserOpener) watchInterrupt(win *oauth.FlagWindow) {
	sig, stop := signal.NotifyContext(o.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sig.Done()
	if o.ctx.Err() != nil {
		return
	}
	win.Close()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.client.CloseHandshake(closeCtx, o.slug, o.state); err != nil {
		fmt.Fprintf(os.Stderr, "could not report the cancellation: %v\n", err)
	}
}

// relay long-polls until the handshake is decided and posts the outcome.
func (o *browserOpener) relay(win *oauth.FlagWindow) {
	for o.ctx.Err() == nil {
		st, err := o.client.AwaitHandshake(o.ctx, o.slug, o.state)
		if err != nil {
			if o.ctx.Err() != nil {
				return
			}
			if !apperror.IsRetryable(err) {
				o.messages.Post(oauth.Message{Type: oauth.MessageError, Error: apperror.Categorize(err).Message, Origin: o.origin})
				return
			}
			time.Sleep(time.Second)
			continue
		}
		switch st.Phase {
		case oauth.PhaseConnected:
			o.messages.Post(oauth.Message{Type: oauth.MessageSuccess, Platform: o.slug, Origin: o.origin})
			return
		case oauth.PhaseFailed:
			o.messages.Post(oauth.Message{Type: oauth.MessageError, Error: st.Error, Origin: o.origin})
			return
		case oauth.PhaseCancelled:
			win.Close()
			return
		}
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
