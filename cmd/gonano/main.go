package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/nanoledger/go-nano/config"
	"github.com/nanoledger/go-nano/node"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the TOML node configuration",
	}
	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "network to join: dev, beta, live, test",
	}
	dataFlag = cli.StringFlag{
		Name:  "data",
		Usage: "data directory",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "gonano"
	app.Usage = "nano node"
	app.Flags = []cli.Flag{configFlag, networkFlag, dataFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	if network := ctx.String("network"); network != "" {
		cfg.Network = network
	}
	if data := ctx.String("data"); data != "" {
		cfg.DataDir = data
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	defer n.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-interrupt
	return nil
}
