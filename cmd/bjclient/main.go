package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/rickgao/blackjack-market/internal/version"
)

var cli struct {
	Config   string `short:"c" default:"configs/bjclient.local.yaml" help:"Path to YAML configuration file."`
	LogLevel string `short:"l" help:"Log level (overrides config)."`

	Run     RunCmd     `cmd:"" default:"1" help:"Poll the chain, track the game and serve health and metrics."`
	Status  StatusCmd  `cmd:"" help:"Read the current game, market and holdings once and print them."`
	Version VersionCmd `cmd:"" help:"Print version information."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	_, err := os.Stdout.WriteString(version.String() + "\n")
	return err
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("bjclient"),
		kong.Description("Blackjack prediction-market client"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
