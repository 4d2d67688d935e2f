// Command sailctl drives the sail winch through its fault-clear, PPM setup,
// and skew-compensated targeting cycle, with brake control under the
// storm-flag carried on "rudderctl:" lines.
//
// It is a Go rendering of the sail half of io/rudderd2/rudderctl_main.c's
// main loop, generalized from a single rudder_params table entry to the
// sail controller's own Init/Control/onReached shape: subscribe to the
// Sail and BMMH serials plus "rudderctl:" and "skew:", and step the state
// machine once per recognized line.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/avalonsail/actuatorcore/internal/axis"
	"github.com/avalonsail/actuatorcore/internal/busconn"
	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/eposclient"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
	"github.com/avalonsail/actuatorcore/internal/rudderproto"
	"github.com/avalonsail/actuatorcore/internal/sail"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-T] [-C configfile]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	timestamps := flag.Bool("T", false, "emit timestamps on outgoing GET/SET lines")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 0 {
		usage()
	}

	log := ratelog.Default("sailctl")

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
	conn.Name("sailctl")
	conn.Precious()

	sailParams := axis.Table[axis.Sail]
	conn.Subscribe(fmt.Sprintf("0x%x:", sailParams.Serial))
	conn.Subscribe(fmt.Sprintf("0x%x:", axis.Table[axis.Bmmh].Serial))
	conn.Subscribe("rudderctl:")
	conn.Subscribe("skew:")

	eclientBus := eposclient.NewBus(conn, *timestamps)
	eclientBus.PendingTTL = cfg.PendingTTL()
	eclientBus.ValidTTL = cfg.ValidTTL()
	dev := eclientBus.OpenDevice(sailParams.Serial)

	ctl := sail.New(dev, log)

	log.Warningf("initializing sail")
	dev.InvalidateAll()
	dev.Get(axis.RegStatus)
	state := axis.Defunct

	for line := range conn.Lines() {
		processed := false

		if c, ok := rudderproto.ParseCtl(line); ok {
			ctl.SetCommandedAngle(c.SailDeg)
			ctl.SetStorm(c.StormFlag)
			processed = true
		} else if sk, ok := rudderproto.ParseSkew(line); ok {
			ctl.SetSkewAngle(sk.AngleDeg)
			processed = true
		} else if outcome, _ := eclientBus.Receive(line); outcome != eposclient.ReceiveUnknown {
			processed = true
		}

		if !processed {
			continue
		}
		eclientBus.Expire()

		if !ctl.HasSkew() {
			log.Warningf("sail waiting for first skew measurement")
		}

		if state == axis.Targeting || state == axis.Reached {
			state = ctl.Control()
			ctl.TickReach(state)
			if state == axis.Homing {
				log.Warningf("sail lost reference, reinitializing")
				dev.InvalidateAll()
				dev.Get(axis.RegStatus)
			}
		} else {
			state = ctl.Init()
			if state == axis.Targeting {
				log.Warningf("done initializing sail")
			}
		}
	}
	if err := conn.Err(); err != nil {
		log.Crash("line bus connection lost: %v", err)
	}
}
