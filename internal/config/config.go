// Package config holds the typed settings of the revival tool.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	revive "github.com/reviveMC74/reviveMC74"
)

// Program is an executable that must be runnable from PATH.
type Program struct {
	Name string `yaml:"name"`
	// Check is a command line that proves the program runs.
	Check []string `yaml:"check"`
	// Need names the group of help text shown when it is missing.
	Need string `yaml:"need"`
}

// InstallFile is a file pushed onto the device.
type InstallFile struct {
	Name  string `yaml:"name"`
	Dest  string `yaml:"dest"`
	Fixup string `yaml:"fixup,omitempty"`
}

// App is an apk installed onto the device.
type App struct {
	Name    string `yaml:"name"`
	File    string `yaml:"file"`
	Package string `yaml:"package"`
}

// Config is the complete set of settings.
type Config struct {
	InstallDir string `yaml:"installDir"`
	LogFile    string `yaml:"logFile"`
	FlagFile   string `yaml:"flagFile"`
	WorkDir    string `yaml:"workDir"`

	// Partition to back up, fix and flash.
	Partition string `yaml:"partition"`
	// DualPartition also flashes the "<partition>2" copy.
	DualPartition bool `yaml:"dualPartition"`
	// Image overrides the derived local image file name.
	Image         string `yaml:"image,omitempty"`
	PartitionSize int    `yaml:"partitionSize"`
	BlockPrefix   string `yaml:"blockPrefix"`
	CacheDir      string `yaml:"cacheDir"`

	PollAttempts int           `yaml:"pollAttempts"`
	PollInterval time.Duration `yaml:"pollInterval"`

	RecoveryImage string        `yaml:"recoveryImage"`
	Programs      []Program     `yaml:"programs"`
	InstallFiles  []InstallFile `yaml:"installFiles"`
	InstallApps   []App         `yaml:"installApps"`
	RemoveFiles   []string      `yaml:"removeFiles"`
	Uninstall     []string      `yaml:"uninstall"`
	StartCommands [][]string    `yaml:"startCommands"`
}

// Default returns the MC74 settings.
func Default() *Config {
	return &Config{
		InstallDir: "installFiles",
		LogFile:    "reviveMC74.log",
		FlagFile:   "filesPresent.flag",
		WorkDir:    ".",

		Partition:     "boot",
		DualPartition: true,
		PartitionSize: revive.PartitionSize,
		BlockPrefix:   "/dev/block/platform/sdhci.1/by-name/",
		CacheDir:      "/cache",

		PollAttempts: 12,
		PollInterval: 5 * time.Second,

		RecoveryImage: "recovery-clockwork-touch-6.0.4.7-mc74v2.img",
		Programs: []Program{
			{Name: "adb", Check: []string{"adb", "version"}, Need: "adb"},
			{Name: "fastboot", Check: []string{"fastboot", "--version"}, Need: "adb"},
		},
		InstallFiles: []InstallFile{
			{Name: "lights", Dest: "/system/bin", Fixup: "chmod 755"},
			{Name: "sockSvr", Dest: "/system/bin", Fixup: "chmod 755"},
			{Name: "hex", Dest: "/system/bin", Fixup: "chmod 755"},
			{Name: "pp", Dest: "/system/bin", Fixup: "chmod 755"},
		},
		InstallApps: []App{
			{Name: "launcher", File: "com.teslacoilsw.launcher-4.1.0-41000-minAPI16.apk", Package: "com.teslacoilsw.launcher"},
			{Name: "ssm", File: "revive.SSMService-debug.apk", Package: "ribo.ssm"},
			{Name: "reviveMC74", File: "revive.MC74-debug.apk", Package: "revive.MC74"},
		},
		RemoveFiles: []string{
			"/system/app/DroidNode.apk",
			"/system/app/DroidNodeSystemSvcs.apk",
			"/data/app/com.meraki.dialer2-2.apk",
		},
		Uninstall: []string{"ribo.audtest", "com.meraki.dialer2"},
		StartCommands: [][]string{
			{"am", "startservice", "ribo.ssm/.SSMservice"},
			{"am", "start", "revive.MC74/org.linphone.dialer.DialerActivity"},
			{"am", "force-stop", "com.meraki.droidnode"},
			{"am", "force-stop", "com.meraki.dialer2"},
			{"am", "force-stop", "com.meraki.dialer2:pjsip"},
		},
	}
}

// Load returns the defaults overridden by the YAML file at path. A
// missing file is not an error when path is the empty string.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %q does not exist", path)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Partition == "" {
		return errors.New("partition must be set")
	}
	if strings.ContainsAny(c.Partition, "/ ") {
		return fmt.Errorf("partition %q must be a bare partition name", c.Partition)
	}
	if c.PollAttempts < 1 {
		return fmt.Errorf("pollAttempts must be at least 1, got %d", c.PollAttempts)
	}
	if c.PartitionSize < 0 {
		return fmt.Errorf("partitionSize must not be negative, got %d", c.PartitionSize)
	}

	return nil
}

// IsBoot reports whether the configured partition holds a boot image.
func (c *Config) IsBoot() bool {
	return strings.HasPrefix(c.Partition, "boot")
}

// ImageFile is the local image file for the configured partition,
// e.g. rmcBoot.img.
func (c *Config) ImageFile() string {
	if c.Image != "" {
		return c.Image
	}

	return filepath.Join(c.WorkDir, "rmc"+strings.ToUpper(c.Partition[:1])+c.Partition[1:]+".img")
}

// FlashTargets lists the partitions an image is flashed to.
func (c *Config) FlashTargets() []string {
	if c.DualPartition {
		return []string{c.Partition, c.Partition + "2"}
	}

	return []string{c.Partition}
}

// InstallPath is the local path of a file in the install directory.
func (c *Config) InstallPath(name string) string {
	return filepath.Join(c.WorkDir, c.InstallDir, name)
}

// Options are the boot image pipeline options for the partition. Size
// checks apply to boot partitions only.
func (c *Config) Options() revive.Options {
	opts := revive.Options{}
	if c.IsBoot() {
		opts.PartitionSize = c.PartitionSize
	}

	return opts
}
