package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/camera/uvc"
	"github.com/gwillem/dofbot/pkg/journal"
	"github.com/gwillem/dofbot/pkg/robot"
)

const (
	defaultListen  = ":5000"
	defaultJournal = "dofbot.db"
)

type ServeCommand struct {
	Listen   string `short:"l" long:"listen" description:"Listen address (default :5000)"`
	Port     string `short:"p" long:"port" description:"Servo serial port, overrides the configuration"`
	CalFile  string `long:"calibration" description:"Calibration JSON file keyed by joint name, overrides the configuration"`
	Sim      bool   `long:"sim" description:"Use a simulated arm and camera"`
	NoCamera bool   `long:"no-camera" description:"Do not open a camera"`
	Journal  string `long:"journal" description:"Move journal database (default dofbot.db, \"none\" disables)"`
}

func (c *ServeCommand) Execute(args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var driver robot.Driver
	if c.Sim {
		logger.Info("using simulated arm")
		driver = robot.NewSimArm()
	} else {
		port := cfg.Device.Port
		if c.Port != "" {
			port = c.Port
		}
		if port == "" {
			return errors.New("no servo port: run 'dofbot setup' or pass --port")
		}
		cal := cfg.Device.Calibration
		if c.CalFile != "" {
			cal, err = robot.LoadCalibration(c.CalFile)
			if err != nil {
				return err
			}
			logger.Info("loaded calibration", "path", c.CalFile)
		}
		if len(cal) == 0 {
			logger.Warn("arm not calibrated, assuming servo mid position is 90 degrees")
		}
		arm, err := robot.NewArm(ctx, robot.BusConfig{Port: port}, cal)
		if err != nil {
			return fmt.Errorf("open arm on %s: %w", port, err)
		}
		logger.Info("arm connected", "port", port)
		driver = arm
	}

	svcOpts := []actuator.Option{actuator.WithLogger(logger)}
	if cfg.Device.GripperOpen != nil || cfg.Device.GripperClose != nil {
		open, closed := 90, 180
		if cfg.Device.GripperOpen != nil {
			open = *cfg.Device.GripperOpen
		}
		if cfg.Device.GripperClose != nil {
			closed = *cfg.Device.GripperClose
		}
		svcOpts = append(svcOpts, actuator.WithGripper(open, closed))
	}

	switch {
	case c.Sim:
		svcOpts = append(svcOpts, actuator.WithCamera(camera.NewPattern(640, 480)))
	case !c.NoCamera:
		cam, err := uvc.Open(cfg.Device.CameraIndex, cfg.Device.ResetCommand, logger)
		if err != nil {
			logger.Warn("camera unavailable, image endpoint will fail", "error", err)
		} else {
			defer cam.Close()
			svcOpts = append(svcOpts, actuator.WithCamera(cam))
		}
	}

	var history actuator.History
	path := c.Journal
	if path == "" {
		path = cfg.Device.JournalPath
	}
	if path == "" {
		path = defaultJournal
	}
	if path != "none" {
		store, err := journal.Open(path, logger)
		if err != nil {
			driver.Close()
			return err
		}
		defer store.Close()
		svcOpts = append(svcOpts, actuator.WithRecorder(store))
		history = store
	}

	svc := actuator.NewService(driver, svcOpts...)
	defer svc.Close()
	srv := actuator.NewServer(svc, history, logger)

	addr := c.Listen
	if addr == "" {
		addr = cfg.Device.Listen
	}
	if addr == "" {
		addr = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
