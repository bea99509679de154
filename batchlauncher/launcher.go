package batchlauncher

import (
	"fmt"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/scriptarchive"
	v1batch "k8s.io/api/batch/v1"
	v12 "k8s.io/api/core/v1"
	"log"
	"path/filepath"
	"sort"
	"strings"
)

const (
	MASTER_LABEL = "sandboxprep.masterJob"
	JOB_LABEL    = "sandboxprep.jobId"
)

/**
the part of the kubernetes jobs client that launching needs
*/
type JobCreator interface {
	Create(*v1batch.Job) (*v1batch.Job, error)
}

func shellQuote(s string) string {
	return "'" + strings.Replace(s, "'", `'"'"'`, -1) + "'"
}

/**
write any generated sandbox files into the job's workspace and return the shell line that stages everything
else alongside them and then runs the job command
*/
func stageCommand(job *models.Job, cfg *models.StandardJobConfig) (string, error) {
	workdir, wsErr := job.InputWorkspacePath(true)
	if wsErr != nil {
		return "", wsErr
	}

	steps := []string{"set -e", "cd " + shellQuote(workdir)}
	extracts := make([]string, 0)
	for _, entry := range cfg.InputSandbox {
		switch e := entry.(type) {
		case *models.LocalSource:
			steps = append(steps, fmt.Sprintf("cp %s .", shellQuote(e.Path())))
			if strings.HasPrefix(e.Name, scriptarchive.ARCHIVE_PREFIX) {
				extracts = append(extracts, fmt.Sprintf("tar -xzf %s", shellQuote(e.Name)))
			}
		case *models.FileBuffer:
			createErr := e.Create(filepath.Join(workdir, e.RelativePath()))
			if createErr != nil {
				log.Printf("ERROR: Could not write %s for job %s: %s", e.RelativePath(), job.FQID(), createErr)
				return "", createErr
			}
		default:
			return "", &models.BackendUnsupportedFileTypeError{Backend: "Batch", File: entry.SandboxName()}
		}
	}
	steps = append(steps, extracts...)
	steps = append(steps, cfg.Command)
	return strings.Join(steps, "\n"), nil
}

/**
kubernetes names must be lower-case alphanumerics and dashes
*/
func jobNameBase(job *models.Job) string {
	return fmt.Sprintf("sandboxprep-%s-", strings.Replace(job.FQID(), ".", "-", -1))
}

/**
launch one real job as a kubernetes Job built from the given template. Variables already set on the template's
container are kept unless we set the same name
*/
func LaunchJob(job *models.Job, cfg *models.StandardJobConfig, kubernetesTemplateFile string, jobClient JobCreator) (*v1batch.Job, error) {
	jobPtr, loadErr := LoadFromTemplate(kubernetesTemplateFile)
	if loadErr != nil {
		log.Printf("ERROR: Could not load job template %s for %s: %s", kubernetesTemplateFile, job.FQID(), loadErr)
		return nil, loadErr
	}

	shellLine, stageErr := stageCommand(job, cfg)
	if stageErr != nil {
		return nil, stageErr
	}

	currentLabels := jobPtr.GetLabels()
	if currentLabels == nil {
		currentLabels = make(map[string]string)
	}
	currentLabels[MASTER_LABEL] = job.MasterJob().FQID()
	currentLabels[JOB_LABEL] = job.FQID()
	jobPtr.SetLabels(currentLabels)

	envVars := map[string]string{
		"ganga_jobid":     job.FQID(),
		"SANDBOX_OUTPUTS": strings.Join(cfg.OutputSandbox, " "),
	}
	names := make([]string, 0, len(envVars))
	for k := range envVars {
		names = append(names, k)
	}
	sort.Strings(names)

	container := &jobPtr.Spec.Template.Spec.Containers[0]
	vars := make([]v12.EnvVar, 0, len(envVars)+len(container.Env))
	for _, k := range names {
		vars = append(vars, v12.EnvVar{Name: k, Value: envVars[k]})
	}
	for _, v := range container.Env {
		_, haveOverwrite := envVars[v.Name]
		if !haveOverwrite { //only re-add to the vars list if there is not one there already
			vars = append(vars, v)
		}
	}
	container.Env = vars
	container.Command = []string{"/bin/sh", "-c", shellLine}
	container.Args = nil

	jobPtr.ObjectMeta.Name = ""
	jobPtr.ObjectMeta.GenerateName = jobNameBase(job)

	created, err := jobClient.Create(jobPtr)
	if err != nil {
		log.Print("ERROR: Can't create job: ", err)
		return nil, err
	}
	log.Printf("INFO: Launched %s for job %s", created.GenerateName, job.FQID())
	return created, nil
}
