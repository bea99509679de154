package scriptarchive

import (
	"fmt"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
)

/**
looks up the detector and conditions database tags that match a given piece of (simulated) data
*/
type DBTagSource interface {
	DBTagsForLFN(lfn string) (dddb string, conddb string, err error)
}

var knownDBTagApps = []string{"DaVinci", "Brunel", "Moore"}

/**
builds the per-master-job archive of worker-node scripts
*/
type Assembler struct {
	build          helpers.BuildConfig
	mcPrefix       string
	bootstrap      string
	outputPatterns []string
	dbTags         DBTagSource
	sessionID      string
}

func NewAssembler(config *helpers.Config, settings *helpers.BackendSettings, dbTags DBTagSource, sessionID string) *Assembler {
	return &Assembler{
		build:          config.Build,
		mcPrefix:       config.Storage.MCPrefix,
		bootstrap:      settings.EnvBootstrap,
		outputPatterns: settings.OutputPatterns,
		dbTags:         dbTags,
		sessionID:      sessionID,
	}
}

/**
create the master job's archive if it doesn't exist yet, add an entry for every job that will run plus any
master-level options, then finalize it
*/
func (a *Assembler) Assemble(master *models.Job) (*models.JobScriptArchive, error) {
	if !master.IsMaster() {
		return nil, models.NewConfigurationError("job %s is a subjob, only the master job writes the script archive", master.FQID())
	}
	app := master.Application

	a.checkAutoDBTags(master)

	archive, createErr := a.ensureArchive(master)
	if createErr != nil {
		return nil, createErr
	}
	if archive.Finalized {
		return nil, &models.ArchiveFinalizedError{Path: archive.Path}
	}

	for _, job := range master.RealJobs() {
		jobErr := a.appendJob(archive, job)
		if jobErr != nil {
			log.Printf("ERROR: Could not add scripts for job %s to %s: %s", job.FQID(), archive.Path, jobErr)
			return nil, jobErr
		}
	}

	if app.GetMetadata {
		summaryErr := AppendEntry(archive, SUMMARY_FILE, []byte(summaryOptions), 0644)
		if summaryErr != nil {
			return nil, summaryErr
		}
	}
	if app.AutoDBTags {
		tagOpts, tagErr := a.dbTagOptions(master)
		if tagErr != nil {
			return nil, tagErr
		}
		appendErr := AppendEntry(archive, DBTAGS_FILE, tagOpts, 0644)
		if appendErr != nil {
			return nil, appendErr
		}
	}

	finalErr := Finalize(archive)
	if finalErr != nil {
		return nil, finalErr
	}
	return archive, nil
}

/**
return the master job's archive, creating it (with its uniqueness marker) the first time round
*/
func (a *Assembler) ensureArchive(master *models.Job) (*models.JobScriptArchive, error) {
	app := master.Application
	if app.ScriptArchive != nil && app.ScriptArchive.Path != "" {
		return app.ScriptArchive, nil
	}

	workspace, wsErr := master.InputWorkspacePath(true)
	if wsErr != nil {
		return nil, wsErr
	}

	identifier := fmt.Sprintf("%d_%s", master.ID, a.sessionID)
	archivePath := filepath.Join(workspace, fmt.Sprintf("%s%s.tar", ARCHIVE_PREFIX, identifier))
	createErr := createEmptyTar(archivePath)
	if createErr != nil {
		log.Printf("ERROR: Could not create script archive %s: %s", archivePath, createErr)
		return nil, createErr
	}

	archive := &models.JobScriptArchive{Identifier: identifier, Path: archivePath}
	markerErr := AppendEntry(archive, models.ARCHIVE_MARKER_ENTRY, markerContent(), 0644)
	if markerErr != nil {
		os.Remove(archivePath)
		return nil, markerErr
	}
	log.Printf("DEBUG: Created script archive %s", archivePath)
	app.ScriptArchive = archive
	return archive, nil
}

func (a *Assembler) appendJob(archive *models.JobScriptArchive, job *models.Job) error {
	app := job.Application

	if app.ExtraOpts != "" {
		optsErr := AppendEntry(archive, ExtraOptsFileName(job), []byte(app.ExtraOpts), 0644)
		if optsErr != nil {
			return optsErr
		}
	}

	if !app.UseRunner {
		params := wrapperParams{
			FQID:      job.FQID(),
			Options:   app.OptionNames(),
			ExtraArgs: app.ExtraArgs,
		}
		if app.GetMetadata {
			params.Extras = append(params.Extras, SUMMARY_FILE)
		}
		if app.AutoDBTags {
			params.Extras = append(params.Extras, DBTAGS_FILE)
		}
		if app.ExtraOpts != "" {
			params.ExtraOpts = ExtraOptsFileName(job)
		}
		if len(job.InputData) > 0 {
			params.DataFile = models.DATA_FILE_NAME
		}
		wrapper, renderErr := render(wrapperTemplate, params)
		if renderErr != nil {
			return renderErr
		}
		wrapperErr := AppendEntry(archive, WrapperScriptName(job), wrapper, 0644)
		if wrapperErr != nil {
			return wrapperErr
		}
	}

	buf, scriptErr := a.WorkerScript(job)
	if scriptErr != nil {
		return scriptErr
	}
	return a.appendViaTempFile(archive, buf)
}

/**
the executable worker-node script for one job, as it sits under the script directory
*/
func (a *Assembler) WorkerScript(job *models.Job) (*models.FileBuffer, error) {
	script, renderErr := render(workerScriptTemplate, workerScriptParams{
		FQID:           job.FQID(),
		Bootstrap:      RenderBootstrap(a.bootstrap, job.Application.Platform),
		Command:        RunInvocation(job, a.build.RunWrapper, a.build.Runner),
		OutputPatterns: a.outputPatternsFor(job),
	})
	if renderErr != nil {
		return nil, renderErr
	}
	buf := models.NewFileBuffer(ScriptName(job), string(script))
	buf.Subdir = SCRIPT_SUBDIR
	buf.Executable = true
	return buf, nil
}

/**
scripts are written out to disk and added from there, so that the archive entry carries the same permissions
the file would have on the worker node
*/
func (a *Assembler) appendViaTempFile(archive *models.JobScriptArchive, buf *models.FileBuffer) error {
	if archive.Finalized {
		return &models.ArchiveFinalizedError{Path: archive.Path}
	}
	tempDir, tempErr := ioutil.TempDir("", "jobscript")
	if tempErr != nil {
		return tempErr
	}
	defer os.RemoveAll(tempDir)

	tempPath := filepath.Join(tempDir, buf.Name)
	createErr := buf.Create(tempPath)
	if createErr != nil {
		return createErr
	}
	appendErr := appendFileToTar(archive.Path, buf.RelativePath(), tempPath)
	if appendErr != nil {
		return appendErr
	}
	archive.Entries = append(archive.Entries, buf.RelativePath())
	return nil
}

func (a *Assembler) outputPatternsFor(job *models.Job) []string {
	rtn := append([]string{}, job.OutputFiles...)
	rtn = append(rtn, a.outputPatterns...)
	if job.Application.GetMetadata {
		rtn = append(rtn, SUMMARY_OUTPUT)
	}
	return rtn
}

/**
auto DB tags only make sense for simulated data. If the first input isn't simulated, or there's nothing
to look the tags up in, switch them off rather than fail
*/
func (a *Assembler) checkAutoDBTags(master *models.Job) {
	if !master.Application.AutoDBTags {
		return
	}
	enable := true
	if len(master.InputData) == 0 || !strings.HasPrefix(strings.TrimPrefix(master.InputData[0], "LFN:"), a.mcPrefix) {
		log.Printf("WARNING: Job %s doesn't look like it runs over simulated data, not automatically adding db tags", master.FQID())
		enable = false
	} else if a.dbTags == nil {
		log.Printf("WARNING: No db tag source is configured, not automatically adding db tags for job %s", master.FQID())
		enable = false
	}
	if enable {
		return
	}
	master.Application.AutoDBTags = false
	for _, sj := range master.Subjobs {
		sj.Application.AutoDBTags = false
	}
}

/**
tags are taken from the first input file only
*/
func (a *Assembler) dbTagOptions(master *models.Job) ([]byte, error) {
	lfn := strings.TrimPrefix(master.InputData[0], "LFN:")
	dddb, conddb, lookupErr := a.dbTags.DBTagsForLFN(lfn)
	if lookupErr != nil {
		log.Printf("ERROR: Could not look up db tags for %s: %s", lfn, lookupErr)
		return nil, lookupErr
	}

	prefix := knownDBTagApps[0]
	for _, name := range knownDBTagApps {
		if strings.Contains(master.Application.Directory, name) {
			prefix = name
		}
	}
	return render(dbTagsTemplate, dbTagsParams{Prefix: prefix, DDDB: dddb, CondDB: conddb})
}

/**
add a single entry to the archive. Fails with ArchiveFinalizedError once the archive has been compressed
*/
func AppendEntry(archive *models.JobScriptArchive, name string, content []byte, mode int64) error {
	if archive.Finalized {
		return &models.ArchiveFinalizedError{Path: archive.Path}
	}
	appendErr := appendToTar(archive.Path, tarEntry{name: name, content: content, mode: mode})
	if appendErr != nil {
		log.Printf("ERROR: Could not append %s to %s: %s", name, archive.Path, appendErr)
		return appendErr
	}
	archive.Entries = append(archive.Entries, name)
	return nil
}

/**
gzip the archive and switch it over to the compressed name. Nothing can be appended afterwards
*/
func Finalize(archive *models.JobScriptArchive) error {
	if archive.Finalized {
		return nil
	}
	gzPath := archive.Path + ".gz"
	zipErr := gzipAndRemove(archive.Path, gzPath)
	if zipErr != nil {
		log.Printf("ERROR: Could not compress %s: %s", archive.Path, zipErr)
		return zipErr
	}
	archive.Path = gzPath
	archive.Finalized = true
	log.Printf("DEBUG: Finalized script archive %s with %d entries", gzPath, len(archive.Entries))
	return nil
}
