package scriptarchive

import (
	"fmt"
	"github.com/guardian/sandboxprep/common/models"
	"path"
	"strings"
)

const (
	SCRIPT_SUBDIR  = "jobScript"
	SUMMARY_FILE   = "summary.py"
	DBTAGS_FILE    = "dbTags.py"
	SUMMARY_OUTPUT = "summary.xml"
	ARCHIVE_PREFIX = "jobScripts-"
)

func ExtraOptsFileName(job *models.Job) string {
	return path.Join("opts", fmt.Sprintf("extra_opts_%s_.py", job.FQID()))
}

func WrapperScriptName(job *models.Job) string {
	return path.Join("wrapper", fmt.Sprintf("job_%s_optsFileWrapper.py", job.FQID()))
}

/**
name of the worker-node script for this job, relative to the script directory
*/
func ScriptName(job *models.Job) string {
	return fmt.Sprintf("%s_Job_%s_script.sh", job.Application.Name, job.FQID())
}

func ScriptEntryName(job *models.Job) string {
	return path.Join(SCRIPT_SUBDIR, ScriptName(job))
}

/**
the command that runs the application inside its project environment on the worker node
*/
func RunInvocation(job *models.Job, runWrapper string, runner string) string {
	app := job.Application
	parts := []string{fmt.Sprintf("export ganga_jobid=%s &&", job.FQID()), runWrapper}

	if !app.UseRunner {
		parts = append(parts, "python", WrapperScriptName(job))
		return strings.Join(parts, " ")
	}

	parts = append(parts, runner)
	parts = append(parts, app.OptionNames()...)
	if len(job.InputData) > 0 {
		parts = append(parts, models.DATA_FILE_NAME)
	}
	if app.ExtraOpts != "" {
		parts = append(parts, ExtraOptsFileName(job))
	}
	if app.GetMetadata {
		parts = append(parts, SUMMARY_FILE)
	}
	if app.AutoDBTags {
		parts = append(parts, DBTAGS_FILE)
	}
	parts = append(parts, app.ExtraArgs...)
	return strings.Join(parts, " ")
}

/**
substitute the platform into a backend's environment bootstrap line
*/
func RenderBootstrap(bootstrap string, platform string) string {
	return strings.Replace(bootstrap, "%PLATFORM%", platform, -1)
}
