// Command eposprobe emits a fixed-rate round of status and position GET
// requests for every axis onto the line bus, so the other daemons always
// have fresh register traffic to piggyback their own reads on.
//
// It is a Go rendering of io/rudderd2/eposprobe_main.c's main(): parse -f
// for the rate and -T for timestamps, then run the drift-correcting probe
// loop until the bus connection drops.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/avalonsail/actuatorcore/internal/busconn"
	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/prober"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-f hz] [-T] [-C configfile]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	hz := flag.Int("f", 0, "probe frequency in Hz (0 = config probe_hz)")
	timestamps := flag.Bool("T", false, "emit timestamps on GET requests")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 0 {
		usage()
	}

	log := ratelog.Default("eposprobe")

	loader, err := config.NewLoader(*cfgPath, log)
	if err != nil {
		log.Crash("loading config: %v", err)
	}
	cfg := loader.Get()
	if *hz <= 0 {
		*hz = cfg.ProbeHz
	}
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
	conn.Name("eposprobe")
	conn.Precious()

	p := prober.New(conn, *hz)
	p.WithTimestamp = *timestamps

	go drainReplies(conn)

	if err := p.Run(context.Background()); err != nil {
		log.Crash("probe loop: %v", err)
	}
}

// drainReplies discards ACK/ERR traffic arriving on the bus; eposprobe only
// emits requests, it does not itself consume the answers.
func drainReplies(conn *busconn.Conn) {
	for range conn.Lines() {
	}
}
