package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/dofbot/pkg/robot"
)

func TestIsDofbot(t *testing.T) {
	six := func(ids ...int) []feetech.FoundServo {
		out := make([]feetech.FoundServo, len(ids))
		for i, id := range ids {
			out[i] = feetech.FoundServo{ID: id}
		}
		return out
	}
	tests := []struct {
		name   string
		servos []feetech.FoundServo
		want   bool
	}{
		{"ids 1-6", six(1, 2, 3, 4, 5, 6), true},
		{"unordered", six(6, 5, 4, 3, 2, 1), true},
		{"five servos", six(1, 2, 3, 4, 5), false},
		{"wrong id", six(1, 2, 3, 4, 5, 7), false},
		{"duplicate", six(1, 1, 3, 4, 5, 6), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		if got := isDofbot(tt.servos); got != tt.want {
			t.Errorf("%s: isDofbot = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	opts.Config = filepath.Join(dir, "missing.json")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("missing config should load empty: %v", err)
	}
	if cfg.Device.Port != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}

	opts.Config = filepath.Join(dir, "dofbot.json")
	want := &robot.Config{Device: robot.DeviceConfig{Port: "/dev/ttyUSB0"}}
	if err := want.SaveTo(opts.Config); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device.Port != "/dev/ttyUSB0" {
		t.Errorf("port = %q", cfg.Device.Port)
	}

	os.WriteFile(opts.Config, []byte("{"), 0644)
	if _, err := loadConfig(); err == nil {
		t.Error("expected parse error")
	}
}

func TestUnreachableHint(t *testing.T) {
	down := fmt.Errorf("%w: connection refused", robot.ErrUnreachable)
	err := unreachableHint("http://arm:5000", down)
	if !errors.Is(err, robot.ErrUnreachable) {
		t.Errorf("hint lost the cause: %v", err)
	}
	if !strings.Contains(err.Error(), "http://arm:5000") {
		t.Errorf("hint does not name the device: %v", err)
	}

	bad := fmt.Errorf("%w: bad angles", robot.ErrInvalidInput)
	if got := unreachableHint("http://arm:5000", bad); got != bad {
		t.Errorf("other errors should pass through, got %v", got)
	}
}
