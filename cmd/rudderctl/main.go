// Command rudderctl drives one rudder axis (port or starboard) through its
// fault-clear, homing, and profile-position targeting cycle, taking its
// commanded angle from "rudderctl:" lines on the line bus.
//
// It is a Go rendering of io/rudderd2/rudderctl_main.c's main(): subscribe
// to this axis's own serial traffic and to "rudderctl:", then for every
// recognized line step the state machine exactly once (Init while Homing or
// Defunct, Control while Targeting or Reached), mirroring the original's
// processinput()-gated nested while loops.
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
	"github.com/avalonsail/actuatorcore/internal/rudder"
	"github.com/avalonsail/actuatorcore/internal/rudderproto"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s {-l | -r} [-T] [-C configfile]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	left := flag.Bool("l", false, "drive the left (port) rudder")
	right := flag.Bool("r", false, "drive the right (starboard) rudder")
	timestamps := flag.Bool("T", false, "emit timestamps on outgoing GET/SET lines")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 0 || *left == *right {
		usage()
	}
	axisID := axis.Right
	label := "rudder_r"
	if *left {
		axisID = axis.Left
		label = "rudder_l"
	}

	log := ratelog.Default(label)

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
	conn.Name(label)
	conn.Precious()

	params := axis.Table[axisID]
	conn.Subscribe(fmt.Sprintf("0x%x:", params.Serial))
	conn.Subscribe("rudderctl:")

	eclientBus := eposclient.NewBus(conn, *timestamps)
	eclientBus.PendingTTL = cfg.PendingTTL()
	eclientBus.ValidTTL = cfg.ValidTTL()
	dev := eclientBus.OpenDevice(params.Serial)

	ctl := rudder.New(params, dev, log)

	log.Warningf("initializing rudder")
	dev.InvalidateAll()
	dev.Get(axis.RegStatus)
	state := axis.Defunct

	for line := range conn.Lines() {
		processed := false

		if c, ok := rudderproto.ParseCtl(line); ok {
			angle := c.RudderRDeg
			if axisID == axis.Left {
				angle = c.RudderLDeg
			}
			ctl.SetCommandedAngle(angle)
			processed = true
		} else if outcome, _ := eclientBus.Receive(line); outcome != eposclient.ReceiveUnknown {
			processed = true
		}

		if !processed {
			continue
		}
		eclientBus.Expire()

		if state == axis.Targeting || state == axis.Reached {
			state = ctl.Control()
			ctl.TickReach(state)
			if state == axis.Homing {
				log.Warningf("rudder %s lost reference, reinitializing", label)
				dev.InvalidateAll()
				dev.Get(axis.RegStatus)
			}
		} else {
			state = ctl.Init()
			if state == axis.Targeting {
				log.Warningf("done initializing rudder")
			}
		}
	}
	if err := conn.Err(); err != nil {
		log.Crash("line bus connection lost: %v", err)
	}
}
