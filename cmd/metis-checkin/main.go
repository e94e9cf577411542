package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "metis-checkin"
	app.HelpName = "metis-checkin"
	app.Usage = "submit the daily contract check-in for every configured account"
	app.Version = version
	app.Flags = flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "metis-checkin: %s\n", err.Error())
		os.Exit(1)
	}
}

var flags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "path to the YAML config file",
		EnvVar: "CHECKIN_CONFIG",
	},
	cli.StringFlag{
		Name:   "rpc",
		Usage:  "rpc endpoint",
		EnvVar: "CHECKIN_RPC",
	},
	cli.StringFlag{
		Name:   "keys, k",
		Usage:  "file with one hex private key per line",
		EnvVar: "CHECKIN_KEYS",
	},
	cli.StringFlag{
		Name:   "contract",
		Usage:  "check-in contract address",
		EnvVar: "CHECKIN_CONTRACT",
	},
	cli.StringFlag{
		Name:   "recipient",
		Usage:  "recipient used when only one account is configured",
		EnvVar: "CHECKIN_RECIPIENT",
	},
	cli.StringFlag{
		Name:   "listen",
		Usage:  "health and metrics address, \"off\" disables it",
		EnvVar: "CHECKIN_LISTEN",
	},
	cli.StringFlag{
		Name:   "log-level",
		Usage:  "debug, info, warn or error",
		EnvVar: "CHECKIN_LOG_LEVEL",
	},
	cli.BoolFlag{
		Name:   "log-json",
		Usage:  "write JSON log lines instead of console output",
		EnvVar: "CHECKIN_LOG_JSON",
	},
}
