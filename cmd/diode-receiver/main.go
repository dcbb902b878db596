// SPDX-License-Identifier: GPL-3.0-or-later

// Command diode-receiver runs the subscribing side of the bridge: it
// binds a UDP port, reconstructs the sender's update stream, and
// dispatches every channel update into a local record store.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/dbr"
	"github.com/epics-diode/diode-go/httpstatus"
	"github.com/epics-diode/diode-go/receiver"
	"github.com/epics-diode/diode-go/store"
	"github.com/epics-diode/diode-go/transport/udp"
	"github.com/epics-diode/diode-go/wsfeed"
)

const version = "diode-receiver 0.1.0"

const defaultPort = 5080

func main() {
	var (
		showHelp    = flag.Bool("h", false, "show this help message")
		showVersion = flag.Bool("V", false, "show version and exit")
		verbosity   = countFlag(0)
		configPath  = flag.String("c", "", "path to the channel configuration file")
		bindAddr    = flag.String("i", "0.0.0.0", "address to bind the receiving socket to")
		storeDir    = flag.String("s", "", "directory for the persisted channel record store (disabled if empty)")
		statusAddr  = flag.String("status", "", "address to serve /healthz and /channels on (disabled if empty)")
		runtimeSecs = flag.Int("r", 0, "exit after this many seconds (0 = run until interrupted)")
	)
	flag.Var(&verbosity, "d", "increase log verbosity (repeatable)")
	flag.Usage = usage
	flag.Parse()

	if *showHelp {
		usage()
		return
	}
	if *showVersion {
		fmt.Println(version)
		return
	}

	applyVerbosity(int(verbosity))

	if *configPath == "" {
		log.Error("missing required -c config flag")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		log.WithError(err).Error("configuration failed validation")
		os.Exit(1)
	}

	port := defaultPort
	if flag.NArg() > 0 {
		if _, err := fmt.Sscanf(flag.Arg(0), "%d", &port); err != nil {
			log.WithError(err).Error("invalid port argument")
			os.Exit(1)
		}
	}

	transport, err := udp.NewReceiver(fmt.Sprintf("%s:%d", *bindAddr, port))
	if err != nil {
		log.WithError(err).Error("failed to bind receiving socket")
		os.Exit(1)
	}
	defer transport.Close()

	var sink receiver.Sink
	if *storeDir != "" {
		st, err := store.Open(*storeDir)
		if err != nil {
			log.WithError(err).Error("failed to open record store")
			os.Exit(1)
		}
		defer st.Close()
		sink = st
	} else {
		sink = receiver.SinkFunc(func(channelIndex uint32, t dbr.Type, count uint32, value []byte) {})
	}

	feed := wsfeed.NewFeed()
	sink = feed.Wrap(sink)

	recv := receiver.New(cfg, transport, sink)

	if *statusAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/feed", feed.HandleWebSocket)
		mux.Handle("/", httpstatus.NewServer(recv))
		go func() {
			if err := http.ListenAndServe(*statusAddr, mux); err != nil {
				log.WithError(err).Warn("status server exited")
			}
		}()
	}

	watchConfig(*configPath)

	ctx, cancel := context.WithCancel(context.Background())
	if *runtimeSecs > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(*runtimeSecs)*time.Second)
		defer timeoutCancel()
	}
	go waitSigint(cancel)

	log.WithFields(log.Fields{"bind": *bindAddr, "port": port}).Info("receiver started")
	if err := recv.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		log.WithError(err).Error("receive loop exited with an error")
		os.Exit(1)
	}

	log.Info("shutting down")
}

// waitSigint cancels ctx's cancel func on the first SIGINT.
func waitSigint(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	log.Info("received interrupt signal")
	cancel()
}

// watchConfig warns if the running process's configuration file
// changes on disk; the process never reloads it, since configuration
// is immutable for a process's lifetime.
func watchConfig(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Debug("configuration file watcher unavailable")
		return
	}
	if err := watcher.Add(path); err != nil {
		log.WithError(err).Debug("failed to watch configuration file")
		_ = watcher.Close()
		return
	}

	go func() {
		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Write != 0 {
					log.Warn("configuration file changed on disk; restart the process to pick it up")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Debug("configuration file watcher error")
			}
		}
	}()
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-h] [-V] [-d]* [-r secs] -c config [-i bind_addr] [port]\n", os.Args[0])
	flag.PrintDefaults()
}

func applyVerbosity(level int) {
	switch {
	case level >= 2:
		log.SetLevel(log.TraceLevel)
	case level == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// countFlag implements flag.Value for a repeatable, argument-less
// flag whose count is all that matters (e.g. -d -d -d for trace).
type countFlag int

func (c *countFlag) String() string { return fmt.Sprintf("%d", int(*c)) }
func (c *countFlag) Set(string) error {
	*c++
	return nil
}
func (c *countFlag) IsBoolFlag() bool { return true }
