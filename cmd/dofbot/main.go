package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	dlog "github.com/gwillem/dofbot/internal/log"
	"github.com/gwillem/dofbot/pkg/client"
	"github.com/gwillem/dofbot/pkg/robot"
)

type Options struct {
	Config    string `short:"c" long:"config" default:"dofbot.json" description:"Configuration file"`
	Device    string `short:"d" long:"device" env:"DOFBOT_DEVICE" description:"Device URL, overrides the configuration file"`
	LogLevel  string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat string `long:"log-format" default:"text" choice:"text" choice:"json" description:"Log format"`

	Setup    SetupCommand    `command:"setup" description:"Find the arm on a serial port and calibrate it"`
	Serve    ServeCommand    `command:"serve" description:"Run the actuator service next to the arm"`
	Control  ControlCommand  `command:"control" alias:"teleop" description:"Drive the arm from the keyboard"`
	Play     PlayCommand     `command:"play" description:"Execute a motion plan"`
	Angles   AnglesCommand   `command:"angles" description:"Print the current joint angles"`
	Move     MoveCommand     `command:"move" description:"Move to the given joint angles"`
	Home     HomeCommand     `command:"home" description:"Move to the home pose"`
	Snapshot SnapshotCommand `command:"snapshot" description:"Save one camera image from the device"`
	Moves    MovesCommand    `command:"moves" description:"List recent moves recorded by the device"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "dofbot - control a 6-axis Dofbot arm over the network"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return dlog.New(opts.LogLevel, opts.LogFormat, os.Stderr)
}

// loadConfig reads the configuration file. A missing file yields an empty
// configuration.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		return &robot.Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Config, err)
	}
	return cfg, nil
}

// connect builds a client for the configured device and checks it answers.
func connect(ctx context.Context, logger *slog.Logger) (*client.Client, *robot.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	url := cfg.Client.DeviceURL
	if opts.Device != "" {
		url = opts.Device
	}
	if url == "" {
		return nil, nil, errors.New("no device URL: pass --device or set client.device_url in " + opts.Config)
	}
	c, err := client.New(ctx, client.Config{
		BaseURL: url,
		Timeout: time.Duration(cfg.Client.TimeoutMs) * time.Millisecond,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, unreachableHint(url, err)
	}
	return c, cfg, nil
}

// unreachableHint points transport failures at the device service.
func unreachableHint(url string, err error) error {
	if client.IsUnreachable(err) {
		return fmt.Errorf("%w (is 'dofbot serve' running at %s?)", err, url)
	}
	return err
}
