// AstroBox simulator: a fake appliance serving the REST API and SockJS push
// channel, for running the monitor or the examples without a printer.
//
// Configuration via astrobox-sim.json or environment variables:
//
//	ADDRESS     listen address (default :5000)
//	API_KEY     bootstrap API key (generated when empty)
//	INTERVAL    time between status snapshots (default 1s)
//	LOG_LEVEL   go-logging level (default INFO)
//
// Send SIGHUP to drop every session and watch clients reconnect.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/op/go-logging"

	"github.com/astroprint/astrobox-go/internal/simulator"
)

var log = logging.MustGetLogger("astrobox-sim")

// InitLogger Receives the log level to be set in go-logging as a string. If the
// level string is not valid an error is returned.
func InitLogger(logLevel string) error {
	baseBackend := logging.NewLogBackend(os.Stdout, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05} %{level:.5s}     %{message}`,
	)
	backendFormatter := logging.NewBackendFormatter(baseBackend, format)

	backendLeveled := logging.AddModuleLevel(backendFormatter)
	logLevelCode, err := logging.LogLevel(logLevel)
	if err != nil {
		return err
	}
	backendLeveled.SetLevel(logLevelCode, "")

	logging.SetBackend(backendLeveled)
	return nil
}

func main() {
	config, err := InitConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %s", err)
	}
	if err := InitLogger(config.LogLevel); err != nil {
		log.Fatalf("%s", err)
	}
	log.Debugf("Config: %+v", config)

	sim := simulator.New(simulator.Options{
		APIKey:   config.APIKey,
		Interval: config.Interval,
		Printer:  simulator.Printer{Operational: true, Ready: true, Camera: true},
	})
	server := &http.Server{Addr: config.Address, Handler: sim.Handler()}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	log.Infof("simulator listening on %s", config.Address)
	log.Infof("ASTROBOX_API_KEY=%s ASTROBOX_WS_TOKEN=%s", sim.APIKey(), sim.IssueToken())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			log.Infof("dropping %d session(s)", sim.Sessions())
			sim.DropConnections()
			continue
		}
		log.Infof("Received signal %s, shutting down simulator...", sig)
		break
	}

	sim.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
