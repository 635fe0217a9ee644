package robot

import (
	"encoding/json"
	"os"
)

// Config holds the device and client configuration.
type Config struct {
	Device DeviceConfig `json:"device"`
	Client ClientConfig `json:"client"`
}

// DeviceConfig configures the actuator service running next to the arm.
type DeviceConfig struct {
	Port         string      `json:"port"`
	Calibration  Calibration `json:"calibration,omitempty"`
	Listen       string      `json:"listen,omitempty"`
	CameraIndex  int         `json:"camera_index"`
	ResetCommand []string    `json:"reset_command,omitempty"` // run before reopening a failed camera
	JournalPath  string      `json:"journal_path,omitempty"`
	GripperOpen  *int        `json:"gripper_open,omitempty"`
	GripperClose *int        `json:"gripper_closed,omitempty"`
}

// ClientConfig configures the control station.
type ClientConfig struct {
	DeviceURL    string `json:"device_url,omitempty"`
	TimeoutMs    int    `json:"timeout_ms,omitempty"`
	DepthCams    []int  `json:"depth_cameras,omitempty"` // V4L2 indexes of depth nodes
	ColorCams    []int  `json:"color_cameras,omitempty"` // V4L2 indexes of color nodes, paired by position
	OutputWidth  int    `json:"output_width,omitempty"`
	OutputHeight int    `json:"output_height,omitempty"`
}

// IsCalibrated returns true if the device has calibration data
func (d *DeviceConfig) IsCalibrated() bool {
	return len(d.Calibration) == NumJoints
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
