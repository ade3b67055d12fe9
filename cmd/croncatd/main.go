package main

import (
	"fmt"
	"os"
	"strings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "run":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "init":
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'croncatd --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`croncatd - agent registry and settlement daemon

USAGE:
    croncatd [COMMAND] [FLAGS]

COMMANDS:
    run         Serve the registry (default when no command is given)
    init        Instantiate the registry from the genesis section
    encrypt     Encrypt a gateway token for the config file
                Usage: croncatd encrypt <value>
    doctor      Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Specify config file path (default: ./croncat.yaml)

CONFIGURATION:
    Config file: ./croncat.yaml
    Environment: CRONCAT_* variables override config
    Secrets:     values prefixed with "enc:" are decrypted with CRONCAT_CONFIG_KEY

EXAMPLES:
    croncatd init --config /etc/croncat/croncat.yaml
    croncatd --config /etc/croncat/croncat.yaml
    CRONCAT_CONFIG_KEY=... croncatd encrypt my-gateway-token`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("CRONCAT_CONFIG"); p != "" {
		return p
	}
	return "croncat.yaml"
}
