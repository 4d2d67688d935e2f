// Command eposcom is the serial command multiplexer: it owns the RS-232
// link to the EPOS motor controllers, probes node-ids 1..9 for their serial
// numbers at startup, and translates GET/SET lines arriving on the line bus
// into binary frame transactions and back into ACK/ERR lines.
//
// It is a Go rendering of io2/eposcom_main.c's main(): same startup probe,
// same raw-vs-sequencer dispatch choice, same per-node slow-transaction
// warning.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/avalonsail/actuatorcore/internal/busconn"
	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/diag"
	"github.com/avalonsail/actuatorcore/internal/epos/frame"
	"github.com/avalonsail/actuatorcore/internal/eposcom"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-r] [-T] [-t timeout_ms] [-C configfile] /dev/ttyXXX\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	raw := flag.Bool("r", false, "disable the sequencer; issue raw single-shot transactions")
	timestamps := flag.Bool("T", false, "emit timestamps on ACK/ERR lines")
	timeoutMs := flag.Int("t", 1000, "wait_object timeout in milliseconds")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}
	devPath := flag.Arg(0)

	log := ratelog.Default("eposcom")

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

	transport := frame.NewTransport(devPath, cfg.SerialBaud)
	if err := transport.Open(); err != nil {
		log.Crash("opening %s: %v", devPath, err)
	}
	defer transport.Close()

	conn, err := busconn.Dial(cfg.LineBusSocket)
	if err != nil {
		log.Crash("dialing line bus %s: %v", cfg.LineBusSocket, err)
	}
	defer conn.Close()
	conn.Name("eposcom")
	conn.Precious()

	nodeOf := eposcom.Probe(transport, conn, log)
	if len(nodeOf) == 0 {
		log.Crash("no EPOS nodes answered the serial-number probe on %s", devPath)
	}

	mux := eposcom.New(transport, nodeOf, log)
	mux.Raw = *raw
	mux.WithTimestamp = *timestamps
	mux.TimeoutMs = *timeoutMs

	dmux := diag.New()
	dmux.HandleJSON("/nodes", func() interface{} { return nodeOf })
	dmux.HandleJSON("/timers", func() interface{} { return mux.Stats() })
	go func() {
		if err := dmux.ListenAndServe(cfg.DiagAddr); err != nil {
			log.Errorf("diagnostic server: %v", err)
		}
	}()

	runLoop(conn, mux, log)
}

// runLoop feeds every line arriving from the bus through mux, writing back
// whatever ACK/ERR line it produces, until the bus connection drops.
func runLoop(conn *busconn.Conn, mux *eposcom.Mux, log *ratelog.Logger) {
	for line := range conn.Lines() {
		reply, ok := mux.HandleLine(line)
		if !ok {
			continue
		}
		if err := conn.Send(reply); err != nil {
			log.Errorf("writing reply to line bus: %v", err)
			return
		}
	}
	if err := conn.Err(); err != nil {
		log.Crash("line bus connection lost: %v", err)
	}
}
