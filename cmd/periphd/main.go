// Command periphd runs the HID peripheral controller.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/periph"
	"github.com/rigado/periph/config"
	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "periphd"
	app.Usage = "BLE HID peripheral connection and security controller"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file",
			EnvVar: "PERIPHD_CONFIG",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error; overrides the config file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "bring the device up and serve the host until interrupted",
			Action: runCmd,
		},
		{
			Name:  "simulate",
			Usage: "pair, bond and reconnect a scripted host on the in-memory stack",
			Flags: []cli.Flag{
				cli.BoolTFlag{Name: "bond", Usage: "host requests bonding"},
				cli.BoolFlag{Name: "wrong-passkey", Usage: "host types a wrong passkey"},
			},
			Action: simulateCmd,
		},
		{
			Name:  "bonds",
			Usage: "inspect the bond store",
			Subcommands: []cli.Command{
				{
					Name:   "list",
					Usage:  "list retained bonds",
					Action: bondsListCmd,
				},
				{
					Name:      "delete",
					Usage:     "forget a host",
					ArgsUsage: "<mac> [public|random]",
					Action:    bondsDeleteCmd,
				},
			},
		},
	}
	return app
}

// loadConfig reads --config, applies --log-level and configures the default logger.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if p := c.GlobalString("config"); p != "" {
		var err error
		if cfg, err = config.Load(p); err != nil {
			return nil, err
		}
	}
	if l := c.GlobalString("log-level"); l != "" {
		cfg.LogLevel = l
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	periph.SetLogLevel(cfg.LogLevel)
	return cfg, nil
}
