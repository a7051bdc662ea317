package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v2"
)

const (
	configDirHidden string = ".ndbg"
	configDir       string = "ndbg"
	configFile      string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxTreeDepth caps the height of the trees walked by the map and set
	// commands, deeper trees are reported as corrupt.
	MaxTreeDepth *int `yaml:"max-tree-depth,omitempty"`
	// MaxContainerSize is the largest container size that is believed,
	// larger sizes are reported as a corrupt header.
	MaxContainerSize *int `yaml:"max-container-size,omitempty"`

	// PageCacheSize is the number of memory pages of a live process kept
	// in memory.
	PageCacheSize *int `yaml:"page-cache-size,omitempty"`

	// PointerWidth overrides the pointer size detected from the dump (4
	// or 8), zero means autodetect.
	PointerWidth int `yaml:"pointer-width"`

	// OutputColor enables colored output when the terminal supports it.
	OutputColor *bool `yaml:"output-color,omitempty"`

	// InitFile is a command file executed when the terminal starts.
	InitFile string `yaml:"init-file,omitempty"`
}

// DefaultPageCacheSize is the page cache size used when the configuration
// does not set one.
const DefaultPageCacheSize = 256

// GetPageCacheSize returns the configured page cache size.
func (c *Config) GetPageCacheSize() int {
	if c.PageCacheSize == nil {
		return DefaultPageCacheSize
	}
	return *c.PageCacheSize
}

// GetOutputColor returns whether colored output is enabled.
func (c *Config) GetOutputColor() bool {
	return c.OutputColor == nil || *c.OutputColor
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// Problems are reported on stderr and a default Config is returned.
func LoadConfig() *Config {
	dir, err := GetConfigFilePath("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}
	c, err := LoadConfigFrom(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads config.yml in dir, writing a commented default
// file if it does not exist.
func LoadConfigFrom(dir string) (*Config, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile := filepath.Join(dir, configFile)

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %v", fullConfigFile, err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.PointerWidth {
	case 0, 4, 8:
	default:
		return fmt.Errorf("pointer-width must be 4 or 8, not %d", c.PointerWidth)
	}
	for name, p := range map[string]*int{"max-tree-depth": c.MaxTreeDepth, "max-container-size": c.MaxContainerSize, "page-cache-size": c.PageCacheSize} {
		if p != nil && *p < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	dir, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return SaveConfigTo(dir, conf)
}

// SaveConfigTo writes conf to config.yml in dir.
func SaveConfigTo(dir string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, configFile))
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the ndbg memory inspector.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Trees deeper than this are reported as corrupt (default 512).
# max-tree-depth: 512

# Containers claiming more elements than this are reported as corrupt
# (default 268435456).
# max-container-size: 268435456

# Number of 4KiB pages of a live process cached while walking containers.
# page-cache-size: 256

# Size of a pointer of the inspected process, 4 or 8. Leave at 0 to use
# the size recorded in the dump.
pointer-width: 0

# Set to false to disable colored output.
# output-color: true

# Command file executed every time a terminal starts.
# init-file: ~/.ndbg/init
`)
	return err
}

// GetConfigFilePath gets the full path to the given config file name.
// The directory is $XDG_CONFIG_HOME/ndbg when XDG_CONFIG_HOME is set,
// ~/.ndbg otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" && runtime.GOOS != "windows" {
		return filepath.Join(xdg, configDir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDirHidden, file), nil
}
