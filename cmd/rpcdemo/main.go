// Command rpcdemo serves and calls the sample services over RabbitMQ, or over
// an in-process broker with --memory.
//
//	rpcdemo serve --service all
//	rpcdemo add 2 3
//	rpcdemo people list
//	rpcdemo --memory demo
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rpcdemo:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "rpcdemo"
	app.Usage = "serve and call the sample services over a message broker"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "TOML configuration file",
		},
		cli.StringFlag{
			Name:   "amqp",
			Usage:  "broker URL, overrides broker.URL",
			EnvVar: "RPCDEMO_AMQP_URL",
		},
		cli.BoolFlag{
			Name:  "memory",
			Usage: "use an in-process broker and serve the sample services locally",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on this address, overrides metrics.Addr",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error, overrides log.LogLevel",
		},
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "serve",
			Usage: "Serve sample services until interrupted",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "service, s",
					Value: "all",
					Usage: "calculator, people or all",
				},
			},
			Action: serveCommand,
		},
		cli.Command{
			Name:      "add",
			Usage:     "Add two numbers on a remote calculator",
			ArgsUsage: "A B",
			Action:    addCommand,
		},
		cli.Command{
			Name:      "sleep",
			Usage:     "Run the calculator's long operation",
			ArgsUsage: "MILLIS",
			Action:    sleepCommand,
		},
		cli.Command{
			Name:  "people",
			Usage: "Query the remote person repository",
			Subcommands: []cli.Command{
				cli.Command{
					Name:   "list",
					Usage:  "List everyone",
					Action: peopleListCommand,
				},
				cli.Command{
					Name:      "get",
					Usage:     "Print the person at an index",
					ArgsUsage: "INDEX",
					Action:    peopleGetCommand,
				},
				cli.Command{
					Name:      "ids",
					Usage:     "Print the people at several indexes",
					ArgsUsage: "INDEX...",
					Action:    peopleIDsCommand,
				},
				cli.Command{
					Name:      "add",
					Usage:     "Add a person",
					ArgsUsage: "NAME AGE",
					Action:    peopleAddCommand,
				},
				cli.Command{
					Name:   "birthday",
					Usage:  "Make everyone one year older",
					Action: peopleBirthdayCommand,
				},
			},
		},
		cli.Command{
			Name:   "demo",
			Usage:  "Run every sample call once",
			Action: demoCommand,
		},
	}
	return app
}
