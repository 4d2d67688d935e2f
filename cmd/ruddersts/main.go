// Command ruddersts is the status aggregator: it watches STATUS and CURRPOS
// responses for both rudders and the BMMH sensor and emits rate-limited
// "ruddersts:" summaries for the higher-level planner.
//
// It is a Go rendering of io/ruddersts_main.c's main(): subscribe to the
// four devices' register traffic, feed every response through the
// Aggregator, and write out whatever "ruddersts:" line it produces.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/busconn"
	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/ruddersts"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-n min_ms] [-x max_ms] [-C configfile]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	minMs := flag.Int("n", 0, "minimum milliseconds between reports (0 = use config default)")
	maxMs := flag.Int("x", 0, "maximum milliseconds between reports (0 = use config default)")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 0 {
		usage()
	}

	log := ratelog.Default("ruddersts")

	loader, err := config.NewLoader(*cfgPath, log)
	if err != nil {
		log.Crash("loading config: %v", err)
	}
	cfg := loader.Get()
	log.SetDebug(cfg.Debug)
	loader.OnChange(func(c config.Config) { log.SetDebug(c.Debug) })
	if err := loader.Watch(nil); err != nil {
		log.Warningf("config watch: %v", err)
	}

	conn, err := busconn.Dial(cfg.LineBusSocket)
	if err != nil {
		log.Crash("dialing line bus %s: %v", cfg.LineBusSocket, err)
	}
	defer conn.Close()
	conn.Name("ruddersts")

	for _, a := range []axis.MotorAxis{axis.Left, axis.Right, axis.Sail, axis.Bmmh} {
		conn.Subscribe(fmt.Sprintf("0x%x:", axis.Table[a].Serial))
	}

	agg := ruddersts.New()
	if *minMs > 0 {
		agg.MinInterval = time.Duration(*minMs) * time.Millisecond
	} else {
		agg.MinInterval = cfg.RudderStsMin()
	}
	if *maxMs > 0 {
		agg.MaxInterval = time.Duration(*maxMs) * time.Millisecond
	} else {
		agg.MaxInterval = cfg.RudderStsMax()
	}

	for line := range conn.Lines() {
		out, ok := agg.HandleResponse(line)
		if !ok {
			continue
		}
		if err := conn.Send(out); err != nil {
			log.Errorf("writing ruddersts line: %v", err)
			return
		}
	}
	if err := conn.Err(); err != nil {
		log.Crash("line bus connection lost: %v", err)
	}
}
