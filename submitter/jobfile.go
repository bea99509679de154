package main

import (
	"github.com/guardian/sandboxprep/common/models"
	"gopkg.in/yaml.v2"
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"
)

type ApplicationSection struct {
	Directory   string   `yaml:"directory"`
	Platform    string   `yaml:"platform"`
	Options     []string `yaml:"options"`
	ExtraOpts   string   `yaml:"extraOpts"`
	ExtraArgs   []string `yaml:"extraArgs"`
	UseRunner   *bool    `yaml:"useRunner"`
	GetMetadata bool     `yaml:"getMetadata"`
	AutoDBTags  bool     `yaml:"autoDBTags"`
}

/**
description of a job to submit, as read from the file given with -job
*/
type JobFile struct {
	ID          int                `yaml:"id"`
	Backend     string             `yaml:"backend"`
	Application ApplicationSection `yaml:"application"`
	InputFiles  []string           `yaml:"inputFiles"`
	InputData   []string           `yaml:"inputData"`
	FilesPerJob int                `yaml:"filesPerJob"`
	OutputFiles []string           `yaml:"outputFiles"`
}

func ReadJobFile(fileName string) (*JobFile, error) {
	content, readErr := ioutil.ReadFile(fileName)
	if readErr != nil {
		log.Printf("Could not read job description from '%s': %s", fileName, readErr)
		return nil, readErr
	}
	var jf JobFile
	parseErr := yaml.Unmarshal(content, &jf)
	if parseErr != nil {
		log.Printf("Could not understand job description: %s", parseErr)
		return nil, parseErr
	}
	return &jf, nil
}

/**
"LFN:" names are remote files, anything else is a local path relative to baseDir unless it is absolute
*/
func sourceFor(name string, baseDir string) models.FileSource {
	if strings.HasPrefix(name, "LFN:") {
		return models.NewRemoteSource(name)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(baseDir, name)
	}
	return models.NewLocalSource(name)
}

/**
build the master job, splitting the input data into subjobs of FilesPerJob files each if that is set
*/
func (f *JobFile) ToJob(workspaceRoot string) (*models.Job, error) {
	if f.Application.Directory == "" {
		return nil, models.NewConfigurationError("the job description has no application directory")
	}
	options := make([]models.FileSource, len(f.Application.Options))
	for i, opt := range f.Application.Options {
		options[i] = sourceFor(opt, f.Application.Directory)
	}

	app := models.NewApplication(f.Application.Directory, f.Application.Platform, options...)
	app.ExtraOpts = f.Application.ExtraOpts
	app.ExtraArgs = f.Application.ExtraArgs
	if f.Application.UseRunner != nil {
		app.UseRunner = *f.Application.UseRunner
	}
	app.GetMetadata = f.Application.GetMetadata
	app.AutoDBTags = f.Application.AutoDBTags

	master := models.NewJob(f.ID, app, f.Backend, workspaceRoot)
	for _, input := range f.InputFiles {
		master.InputFiles = append(master.InputFiles, sourceFor(input, f.Application.Directory))
	}
	master.InputData = f.InputData
	master.OutputFiles = f.OutputFiles

	if f.FilesPerJob > 0 {
		for start := 0; start < len(f.InputData); start += f.FilesPerJob {
			end := start + f.FilesPerJob
			if end > len(f.InputData) {
				end = len(f.InputData)
			}
			_, addErr := master.AddSubjob(append([]string{}, f.InputData[start:end]...))
			if addErr != nil {
				return nil, addErr
			}
		}
	}
	return master, nil
}
