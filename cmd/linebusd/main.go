// Command linebusd is the line bus daemon: it fans text lines out among
// every connected client, honoring per-client subscription filters, xoff/xon
// backpressure, and precious-client death propagation.
//
// It is a Go rendering of io2/linebusd_main.c's main(): same socket-path
// argument and pidfile convention. Unlike the original it does not
// double-fork into the background (Go has no direct daemon(3) equivalent
// and a self-exec dance felt like more complexity than this rendition
// should carry); -d only turns on DEBUG lines on stderr, in addition to
// the config file's debug setting.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/diag"
	"github.com/avalonsail/actuatorcore/internal/linebus"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-d] [-c cmdchar] [-C configfile] /path/to/socket\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	debug := flag.Bool("d", false, "run in foreground with verbose logging")
	cmdChar := flag.String("c", "$", "command line prefix character")
	cfgPath := flag.String("C", "", "optional YAML config overlay")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
	}
	sockPath := flag.Arg(0)

	if len(*cmdChar) != 1 {
		fmt.Fprintln(os.Stderr, "-c takes exactly one character")
		usage()
	}

	log := ratelog.Default("linebusd")
	if *debug {
		log.Debugf("running in foreground")
	}

	loader, err := config.NewLoader(*cfgPath, log)
	if err != nil {
		log.Crash("loading config: %v", err)
	}
	cfg := loader.Get()
	log.SetDebug(cfg.Debug || *debug)
	loader.OnChange(func(c config.Config) { log.SetDebug(c.Debug || *debug) })
	if err := loader.Watch(nil); err != nil {
		log.Warningf("config watch: %v", err)
	}

	if err := writePidfile(sockPath); err != nil {
		log.Warningf("writing pidfile: %v", err)
	}

	bus := linebus.New(log, (*cmdChar)[0])

	dmux := diag.New()
	dmux.HandleJSON("/clients", func() interface{} { return bus.Snapshot() })
	go func() {
		if err := dmux.ListenAndServe(cfg.DiagAddr); err != nil {
			log.Errorf("diagnostic server: %v", err)
		}
	}()

	log.Noticef("started on socket %s", sockPath)
	if err := bus.Serve(sockPath); err != nil {
		log.Crash("linebusd: %v", err)
	}
}

func writePidfile(sockPath string) error {
	f, err := os.Create(sockPath + ".pid")
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}
