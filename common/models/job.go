package models

import (
	"errors"
	"fmt"
	"github.com/jinzhu/copier"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

/**
a (master) job or one of its subjobs. A subjob has Master set and no Subjobs of its own
*/
type Job struct {
	ID             int
	Master         *Job
	Subjobs        []*Job
	Application    *Application
	Backend        string
	InputFiles     []FileSource
	InputData      []string //logical names of the data to run over
	OutputFiles    []string //patterns to collect back
	InputWorkspace string
}

func NewJob(id int, app *Application, backend string, workspaceRoot string) *Job {
	return &Job{
		ID:             id,
		Application:    app,
		Backend:        backend,
		InputWorkspace: filepath.Join(workspaceRoot, strconv.Itoa(id), "input"),
	}
}

/**
fully-qualified id, "<master>" or "<master>.<subjob>"
*/
func (j *Job) FQID() string {
	if j.Master == nil {
		return strconv.Itoa(j.ID)
	}
	return fmt.Sprintf("%d.%d", j.Master.ID, j.ID)
}

func (j *Job) IsMaster() bool {
	return j.Master == nil
}

func (j *Job) MasterJob() *Job {
	if j.Master == nil {
		return j
	}
	return j.Master
}

/**
the jobs that will actually run: every subjob if there are any, otherwise the job itself
*/
func (j *Job) RealJobs() []*Job {
	if j.Master == nil && len(j.Subjobs) > 0 {
		return j.Subjobs
	}
	return []*Job{j}
}

/**
return the input workspace directory, optionally creating it
*/
func (j *Job) InputWorkspacePath(create bool) (string, error) {
	if j.InputWorkspace == "" {
		return "", NewConfigurationError("job %s has no input workspace", j.FQID())
	}
	if create {
		mkdirErr := os.MkdirAll(j.InputWorkspace, 0755)
		if mkdirErr != nil {
			log.Printf("ERROR: Could not create input workspace %s: %s", j.InputWorkspace, mkdirErr)
			return "", mkdirErr
		}
	}
	return j.InputWorkspace, nil
}

/**
split off a new subjob running over the given input data. The subjob's application is a copy of the master's
that shares the master's prepared artifact by reference; it never owns uploaded files or a script archive itself
*/
func (j *Job) AddSubjob(inputData []string) (*Job, error) {
	if j.Master != nil {
		return nil, errors.New("can't add a subjob to a subjob")
	}
	if j.Application == nil {
		return nil, NewConfigurationError("job %s has no application", j.FQID())
	}

	var subApp Application
	copyErr := copier.Copy(&subApp, j.Application)
	if copyErr != nil {
		log.Printf("ERROR: Could not copy application for subjob of %s: %s", j.FQID(), copyErr)
		return nil, copyErr
	}
	subApp.Options = append([]FileSource{}, j.Application.Options...)
	subApp.ExtraArgs = append([]string{}, j.Application.ExtraArgs...)
	subApp.EnvVars = copyStringMap(j.Application.EnvVars)
	subApp.PreparedRef = j.Application.PreparedRef
	subApp.UploadedInput = nil
	subApp.ScriptArchive = nil

	sub := &Job{
		ID:             len(j.Subjobs),
		Master:         j,
		Application:    &subApp,
		Backend:        j.Backend,
		InputFiles:     append([]FileSource{}, j.InputFiles...),
		InputData:      inputData,
		OutputFiles:    append([]string{}, j.OutputFiles...),
		InputWorkspace: filepath.Join(j.InputWorkspace, strconv.Itoa(len(j.Subjobs))),
	}
	j.Subjobs = append(j.Subjobs, sub)
	return sub, nil
}

func copyStringMap(from map[string]string) map[string]string {
	if from == nil {
		return nil
	}
	rtn := make(map[string]string, len(from))
	for k, v := range from {
		rtn[k] = v
	}
	return rtn
}
