// Command actuatorconf is a small config-file helper for the actuator core
// daemons: `mkconf` writes out the compiled-in defaults as YAML, `conf`
// prints the effective configuration (defaults overlaid with an existing
// file) to stdout.
//
// It is a Go rendering of cmd/multiserver's mkconf/conf subcommand pair:
// same os.Args-based subcommand dispatch, same yaml.v2 encoder, generalized
// from multiserver's single hardcoded Config type to internal/config.Config.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	yml "github.com/go-yaml/yaml"

	"github.com/avalonsail/actuatorcore/internal/config"
	"github.com/avalonsail/actuatorcore/internal/ratelog"
)

const defaultConfigFileName = "actuatorcore.yaml"

func root() {
	fmt.Println(`actuatorconf is a helper for actuatorcore's daemon configuration file.

Usage:
	actuatorconf <command> [path]

Commands:
	mkconf [path]   write the compiled-in defaults as YAML (default path actuatorcore.yaml)
	conf [path]     print the effective configuration (defaults + file overlay)
	help`)
}

func mkconf(path string) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(config.Default()); err != nil {
		log.Fatal(err)
	}
}

func printconf(path string) {
	loader, err := config.NewLoader(path, ratelog.Default("actuatorconf"))
	if err != nil {
		log.Fatal(err)
	}
	if err := yml.NewEncoder(os.Stdout).Encode(loader.Get()); err != nil {
		log.Fatal(err)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}

	cmd := strings.ToLower(args[1])
	path := defaultConfigFileName
	if len(args) > 2 {
		path = args[2]
	}

	switch cmd {
	case "help":
		root()
	case "mkconf":
		mkconf(path)
	case "conf":
		printconf(path)
	default:
		root()
		os.Exit(2)
	}
}
