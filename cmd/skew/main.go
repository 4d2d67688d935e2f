// Command skew is the skew computer: it interleaves Sail CURRPOS samples
// around BMMH absolute-angle samples to estimate the mechanical slip
// between the sail winch's own encoder and the boom's true heading, and
// emits "skew:" lines for the sail controller to compensate with.
//
// It is a Go rendering of io/skewmon_main.c's main(): subscribe to the
// Sail's CURRPOS and the BMMH's position register responses, feed every
// response through the Computer, and write out whatever "skew:" line or
// proactive GET it produces.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/busconn"
	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/skew"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-T] [-C configfile]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	timestamps := flag.Bool("T", false, "emit timestamps on outgoing GET lines")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 0 {
		usage()
	}

	log := ratelog.Default("skew")

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
	conn.Name("skew")

	conn.Subscribe(fmt.Sprintf("0x%x:", axis.Table[axis.Sail].Serial))
	conn.Subscribe(fmt.Sprintf("0x%x:", axis.Table[axis.Bmmh].Serial))

	c := skew.New(conn)
	c.WithTimestamp = *timestamps

	for line := range conn.Lines() {
		out, ok := c.HandleResponse(line)
		if !ok {
			continue
		}
		if err := conn.Send(out); err != nil {
			log.Errorf("writing skew line: %v", err)
			return
		}
	}
	if err := conn.Err(); err != nil {
		log.Crash("line bus connection lost: %v", err)
	}
}
