package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const DATA_FILE_NAME = "data.py"

/**
a buildable project checkout plus the settings needed to run it.
PreparedRef is non-nil exactly when the application has been prepared and not subsequently unprepared
*/
type Application struct {
	Name        string
	Directory   string
	Options     []FileSource
	Platform    string
	ExtraOpts   string
	ExtraArgs   []string
	UseRunner   bool
	GetMetadata bool
	AutoDBTags  bool

	PreparedRef   *SharedArtifact
	Hash          string
	EnvVars       map[string]string
	BuildTarget   string
	UploadedInput *RemoteFile
	ScriptArchive *JobScriptArchive
}

func NewApplication(directory string, platform string, options ...FileSource) *Application {
	return &Application{
		Name:      "GaudiExec",
		Directory: directory,
		Options:   options,
		Platform:  platform,
		UseRunner: true,
	}
}

func (a *Application) IsPrepared() bool {
	return a.PreparedRef != nil
}

/**
return the option file names as they will appear in the prepared directory (and hence on the worker node)
*/
func (a *Application) OptionNames() []string {
	rtn := make([]string, len(a.Options))
	for i, o := range a.Options {
		rtn[i] = o.BaseName()
	}
	return rtn
}

/**
stable hash over everything that affects the prepared output. Two applications with the same hash would
produce interchangeable shared artifacts
*/
func (a *Application) PreparableHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "dir=%s\nplatform=%s\nrunner=%t\n", a.Directory, a.Platform, a.UseRunner)
	for _, o := range a.Options {
		fmt.Fprintf(h, "opt=%s\n", o.SandboxName())
	}
	fmt.Fprintf(h, "extraopts=%s\n", a.ExtraOpts)
	fmt.Fprintf(h, "extraargs=%s\n", strings.Join(a.ExtraArgs, "\x00"))

	envKeys := make([]string, 0, len(a.EnvVars))
	for k := range a.EnvVars {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fmt.Fprintf(h, "env=%s=%s\n", k, a.EnvVars[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
