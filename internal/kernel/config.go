// Package kernel wires every subsystem into one bootable whole: it owns
// the file system image, the paging directory, the
// terminal manager, the virtual RTC, the process/syscall manager, and the
// scheduler, and drives them from the timer and RTC driver goroutines (run
// through the device bus) and the keyboard loop that errgroup supervises.
// cmd/kernel is a thin driver over this package.
package kernel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the boot-time configuration: the file system image to serve,
// the program each terminal's root shell runs, the boot virtual RTC rate,
// and the scheduler's tick rate.
type Config struct {
	// FSImagePath is a path to a file system image in the boot-block +
	// inodes + data-blocks layout fsimage parses. Empty means use the
	// baked-in userland.BuildDefaultImage.
	FSImagePath string `yaml:"fs_image_path"`

	// RootShellCommand is the program executed on each terminal's idle
	// slot, normally "shell".
	RootShellCommand string `yaml:"root_shell_command"`

	// TimerHz is the scheduler's timer-tick rate.
	TimerHz int `yaml:"timer_hz"`

	// InitialRTCHz is the virtual RTC's boot rate before any process has
	// written a rate of its own.
	InitialRTCHz int `yaml:"initial_rtc_hz"`
}

// DefaultConfig returns the configuration the kernel boots with when no
// config file is given.
func DefaultConfig() Config {
	return Config{
		RootShellCommand: "shell",
		TimerHz:          80,
		InitialRTCHz:     2,
	}
}

// LoadConfig reads and parses a YAML boot config at path, filling any
// zero-valued field from DefaultConfig. A missing file is not an error;
// it just means defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("kernel: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("kernel: parse config %s: %w", path, err)
	}
	if cfg.RootShellCommand == "" {
		cfg.RootShellCommand = "shell"
	}
	if cfg.TimerHz <= 0 {
		cfg.TimerHz = 80
	}
	if cfg.InitialRTCHz <= 0 {
		cfg.InitialRTCHz = 2
	}
	return cfg, nil
}
