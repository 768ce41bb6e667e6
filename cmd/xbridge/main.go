package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"xbridge/lib/bridge"
	"xbridge/lib/config"
	"xbridge/lib/hub"
	"xbridge/lib/relay"
)

func main() {
	cfgPath := pflag.String("config", "settings.yaml", "settings file")
	listen := pflag.String("listen", "", "HTTP listen address (overrides settings)")
	mixerAddr := pflag.String("mixer", "", "mixer address (overrides settings)")
	logLevel := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	settings, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *mixerAddr != "" {
		settings.Mixer.Address = *mixerAddr
	}
	addr := settings.Listen
	if *listen != "" {
		addr = *listen
	}
	if addr == "" {
		addr = ":8765"
	}

	defer midi.CloseDriver()
	dispatch, err := buildDispatcher(settings.Relay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	b := bridge.New(settings, *cfgPath, dispatch)
	h := hub.New(b)
	b.SetBroadcast(h.Broadcast)

	if err := b.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Stop()

	watcher, err := config.Watch(*cfgPath, func() {
		if err := b.ReloadSettings(); err != nil {
			logrus.WithError(err).Error("settings reload failed")
		}
	})
	if err != nil {
		logrus.WithError(err).Warn("settings watcher unavailable")
	} else {
		defer watcher.Close()
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", h.ServeWS)
	r.HandleFunc("/api/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, b.Status())
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/scenes", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, b.SceneDirectory())
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logrus.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logrus.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	h.Close()
}

// buildDispatcher wires the command backends from settings. The MIDI
// backend is optional; the HTTP relay is only built when a URL is
// configured.
func buildDispatcher(cfg config.Relay) (relay.Dispatcher, error) {
	router := &relay.Router{}
	if cfg.URL != "" {
		router.HTTP = relay.NewHTTPRelay(cfg.URL, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	}
	if cfg.MIDIPort != "" {
		port, err := relay.FindOutPort(cfg.MIDIPort)
		if err != nil {
			return nil, err
		}
		mr, err := relay.NewMIDIRelay(port)
		if err != nil {
			return nil, err
		}
		router.MIDI = mr
	}
	return router, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("response encode failed")
	}
}
