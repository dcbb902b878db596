// SPDX-License-Identifier: GPL-3.0-or-later

// Command diode-sender runs the publishing side of the bridge: it
// subscribes to a configured set of channels and emits a stream of
// UDP datagrams toward one or more receivers, never expecting a reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/epics-diode/diode-go/config"
	"github.com/epics-diode/diode-go/sender"
	"github.com/epics-diode/diode-go/transport/udp"
)

const version = "diode-sender 0.1.0"

const defaultDestPort = 5080

// simulatedSourceTick paces the built-in demo source; it has no
// bearing on the wire protocol's own timing, only on how often the
// simulated upstream produces a fresh value to publish.
const simulatedSourceTick = 500 * time.Millisecond

func main() {
	var (
		showHelp    = flag.Bool("h", false, "show this help message")
		showVersion = flag.Bool("V", false, "show version and exit")
		verbosity   = countFlag(0)
		configPath  = flag.String("c", "", "path to the channel configuration file")
		runtimeSecs = flag.Int("r", 0, "exit after this many seconds (0 = run until interrupted)")
		rateLimit   = flag.Uint("rate-limit-mbs", 0, "cap outbound throughput in MB/s (0 = unlimited)")
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
	if flag.NArg() != 1 {
		log.Error("expected exactly one destination address list argument")
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

	transport, err := udp.NewSender(flag.Arg(0), defaultDestPort, uint32(*rateLimit))
	if err != nil {
		log.WithError(err).Error("failed to resolve destination addresses")
		os.Exit(1)
	}
	defer transport.Close()

	source := newSimulatedSource(simulatedSourceTick)

	snd, err := sender.New(cfg, source, transport, uint64(time.Now().UnixMilli()))
	if err != nil {
		log.WithError(err).Error("failed to build sender")
		os.Exit(1)
	}
	defer snd.Close()

	watchConfig(*configPath)

	ctx, cancel := context.WithCancel(context.Background())
	if *runtimeSecs > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(*runtimeSecs)*time.Second)
		defer timeoutCancel()
	}
	go waitSigint(cancel)

	log.WithField("destinations", flag.Arg(0)).Info("sender started")
	if err := snd.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		log.WithError(err).Error("send loop exited with an error")
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
	fmt.Fprintf(os.Stderr, "Usage: %s [-h] [-V] [-d]* [-r secs] -c config \"<ip[:port]>[ <ip[:port]>...]\"\n", os.Args[0])
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
