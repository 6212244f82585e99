// AstroBox monitor: a terminal dashboard that mirrors a printer appliance's
// live state over the push channel.
//
// Configuration via astrobox-monitor.json or environment variables:
//
//	ASTROBOX_URL         HTTP address of the appliance (required)
//	ASTROBOX_API_KEY     API key for REST calls until the first handshake
//	ASTROBOX_WS_TOKEN    bootstrap channel token (fetched when empty)
//	ASTROBOX_LOG_LEVEL   go-logging level (default INFO)
//	ASTROBOX_LOG_FILE    log destination (default astrobox-monitor.log)
//
// Usage:
//
//	ASTROBOX_URL=http://localhost:5000 ASTROBOX_API_KEY=... go run ./cmd/astrobox-monitor
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/op/go-logging"

	astrobox "github.com/astroprint/astrobox-go"
)

var log = logging.MustGetLogger("astrobox-monitor")

// InitLogger sets the go-logging level and sends output to path, since the
// dashboard owns the terminal.
func InitLogger(logLevel, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	baseBackend := logging.NewLogBackend(f, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05} %{level:.5s}     %{message}`,
	)
	backendFormatter := logging.NewBackendFormatter(baseBackend, format)

	backendLeveled := logging.AddModuleLevel(backendFormatter)
	logLevelCode, err := logging.LogLevel(logLevel)
	if err != nil {
		f.Close()
		return nil, err
	}
	backendLeveled.SetLevel(logLevelCode, "")

	logging.SetBackend(backendLeveled)
	return f, nil
}

// clientController adapts the client to the dashboard's key bindings.
type clientController struct {
	client *astrobox.Client
}

func (c clientController) Reconnect(ctx context.Context) error { return c.client.Reconnect(ctx) }
func (c clientController) PauseJob(ctx context.Context) error  { return c.client.API().PauseJob(ctx) }
func (c clientController) CancelJob(ctx context.Context) error { return c.client.API().CancelJob(ctx) }

func main() {
	os.Exit(run())
}

func run() int {
	config, err := InitConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "astrobox-monitor: %v\n", err)
		return 1
	}
	logFile, err := InitLogger(config.LogLevel, config.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "astrobox-monitor: %v\n", err)
		return 1
	}
	defer logFile.Close()

	prefs := LoadPrefs(config.PrefsPath)

	client, err := astrobox.NewClient(astrobox.Config{
		BaseURL: config.URL,
		APIKey:  config.APIKey,
		WSToken: config.WSToken,
	}, astrobox.LogErrors(log), astrobox.WithBootstrap(prefs.LastState))
	if err != nil {
		fmt.Fprintf(os.Stderr, "astrobox-monitor: %v\n", err)
		return 1
	}

	model := newModel(clientController{client}, client.Store().Snapshot(), prefs.ShowComms)
	p := tea.NewProgram(model, tea.WithAltScreen())

	store := client.Store()
	store.SubscribeAll(func(string, any, any) { p.Send(statusMsg(store.Snapshot())) })
	astrobox.On(client.Events(), func(e astrobox.CommsData) { p.Send(commsMsg(e)) })
	astrobox.On(client.Events(), func(e astrobox.SoftwareUpdateAvailable) {
		p.Send(noticeMsg("software update " + e.Version + " available"))
	})
	client.OnDisconnect(func(err error) {
		log.Warningf("disconnected: %v", err)
		p.Send(linkMsg(client.State()))
	})
	client.OnReconnect(func() { p.Send(linkMsg(client.State())) })
	client.OnFailed(func() {
		p.Send(linkMsg(astrobox.StateFailed))
		p.Send(noticeMsg("appliance unreachable, press r to retry"))
	})
	client.OnReload(func(owner string) {
		p.Send(noticeMsg("another session (" + owner + ") took control"))
	})
	store.Subscribe(astrobox.FieldConnection, func(string, any, any) { p.Send(linkMsg(client.State())) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	go func() {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			log.Errorf("connect: %v", err)
			p.Send(noticeMsg("connect failed, retrying: " + err.Error()))
		}
	}()

	final, runErr := p.Run()
	client.Close()

	if m, ok := final.(Model); ok {
		prefs.ShowComms = m.showComms
	}
	prefs.LastState = store.Snapshot().Bootstrap()
	if err := SavePrefs(config.PrefsPath, prefs); err != nil {
		log.Warningf("save prefs: %v", err)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "astrobox-monitor: %v\n", runErr)
		return 1
	}
	return 0
}
