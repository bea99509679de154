package helpers

import (
	"errors"
	"fmt"
	"gopkg.in/yaml.v2"
	"io/ioutil"
	"log"
	"time"
)

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DBNum    int    `yaml:"dbNum"`
}

type ScratchStorage struct {
	LocalPath string `yaml:"localpath"`
}

/**
where shared (prepared) directories live. The final layout is <root>/shared/<user>/<uniqueName>
*/
type SharedStorage struct {
	Root string `yaml:"root"`
	User string `yaml:"user"`
	//if true, share counters are kept in redis rather than in-process
	RedisCounters bool `yaml:"redisCounters"`
}

type BuildConfig struct {
	Target         string            `yaml:"target"`
	SandboxName    string            `yaml:"sandboxName"`
	StableName     string            `yaml:"stableName"`
	TimeoutSeconds int               `yaml:"timeoutSeconds"`
	RunWrapper     string            `yaml:"runWrapper"`
	Runner         string            `yaml:"runner"`
	PreservedFiles []string          `yaml:"preservedFiles"`
	EnvKeys        []string          `yaml:"envKeys"`
	DefaultEnv     map[string]string `yaml:"defaultEnv"`
}

type StorageConfig struct {
	LFNBase           string   `yaml:"lfnBase"`
	StorageElements   []string `yaml:"storageElements"`
	Redundancy        int      `yaml:"redundancy"`
	RequireRedundancy bool     `yaml:"requireRedundancy"`
	FabricRoot        string   `yaml:"fabricRoot"`
	MCPrefix          string   `yaml:"mcPrefix"`
}

type Config struct {
	Redis    RedisConfig                       `yaml:"redis"`
	Scratch  ScratchStorage                    `yaml:"scratch"`
	Shared   SharedStorage                     `yaml:"shared"`
	Build    BuildConfig                       `yaml:"build"`
	Storage  StorageConfig                     `yaml:"storage"`
	Backends map[string]map[string]interface{} `yaml:"backends"`
}

/**
fill in anything that the config file left out with the values the build tooling expects
*/
func (c *Config) ApplyDefaults() {
	if c.Build.Target == "" {
		c.Build.Target = "ganga-input-sandbox"
	}
	if c.Build.SandboxName == "" {
		c.Build.SandboxName = "input-sandbox.tgz"
	}
	if c.Build.StableName == "" {
		c.Build.StableName = "cmake-input-sandbox.tgz"
	}
	if c.Build.TimeoutSeconds == 0 {
		c.Build.TimeoutSeconds = 3600
	}
	if c.Build.RunWrapper == "" {
		c.Build.RunWrapper = "./run"
	}
	if c.Build.Runner == "" {
		c.Build.Runner = "gaudirun.py"
	}
	if c.Build.PreservedFiles == nil {
		c.Build.PreservedFiles = []string{"run"}
	}
	if c.Build.EnvKeys == nil {
		c.Build.EnvKeys = []string{"XMLSUMMARYBASEROOT"}
	}
	if c.Storage.MCPrefix == "" {
		c.Storage.MCPrefix = "/lhcb/MC/"
	}
	if c.Storage.Redundancy == 0 {
		c.Storage.Redundancy = 2
	}
	if c.Shared.User == "" {
		c.Shared.User = "nobody"
	}
}

func (c *Config) BuildTimeout() time.Duration {
	return time.Duration(c.Build.TimeoutSeconds) * time.Second
}

/**
sanity-check the values that have no sensible default
*/
func (c *Config) Validate() error {
	if c.Shared.Root == "" {
		return errors.New("shared.root must be set")
	}
	if c.Scratch.LocalPath == "" {
		return errors.New("scratch.localpath must be set")
	}
	if c.Storage.Redundancy < 1 {
		return fmt.Errorf("storage.redundancy must be at least 1, got %d", c.Storage.Redundancy)
	}
	return nil
}

func ReadConfig(configFile string) (*Config, error) {
	configBytes, readErr := ioutil.ReadFile(configFile)
	if readErr != nil {
		log.Printf("Could not read config from '%s': %s\n", configFile, readErr)
		return nil, readErr
	}

	return ParseConfig(configBytes)
}

func ParseConfig(configBytes []byte) (*Config, error) {
	var conf Config

	err := yaml.Unmarshal(configBytes, &conf)
	if err != nil {
		log.Printf("Could not understand config: %s\n", err)
		return nil, err
	}
	conf.ApplyDefaults()
	return &conf, nil
}
