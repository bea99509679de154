package dispatcher

import (
	"context"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/scriptarchive"
	"log"
)

/**
for backends that run on hosts which can see the shared directory. Nothing is uploaded,
jobs are pointed straight at the files on disk
*/
type localHandler struct {
	backend   Backend
	deps      Deps
	settings  *helpers.BackendSettings
	assembler *scriptarchive.Assembler
}

func (h *localHandler) rejectRemote(sources []models.FileSource) error {
	for _, src := range sources {
		if remote, isRemote := src.(*models.RemoteSource); isRemote {
			return &models.BackendUnsupportedFileTypeError{Backend: string(h.backend), File: remote.SandboxName()}
		}
	}
	return nil
}

func (h *localHandler) MasterPrepare(ctx context.Context, job *models.Job) (*models.StandardJobConfig, error) {
	if !job.IsMaster() {
		return nil, models.NewConfigurationError("master preparation was asked for on subjob %s", job.FQID())
	}
	app := job.Application

	if rejectErr := h.rejectRemote(app.Options); rejectErr != nil {
		return nil, rejectErr
	}
	if rejectErr := h.rejectRemote(job.InputFiles); rejectErr != nil {
		return nil, rejectErr
	}

	prepErr := ensurePrepared(ctx, h.deps, app)
	if prepErr != nil {
		return nil, prepErr
	}
	copyErr := copyLocalInputs(h.deps.Store, app.PreparedRef, job.InputFiles)
	if copyErr != nil {
		log.Printf("ERROR: Could not copy input files for job %s: %s", job.FQID(), copyErr)
		return nil, copyErr
	}

	app.ScriptArchive = nil
	archive, archiveErr := h.assembler.Assemble(job)
	if archiveErr != nil {
		return nil, archiveErr
	}

	preparedFiles, listErr := h.deps.Store.ListFiles(app.PreparedRef)
	if listErr != nil {
		return nil, listErr
	}
	cfg := &models.StandardJobConfig{}
	for _, f := range preparedFiles {
		cfg.AddInput(models.NewLocalSource(f))
	}
	cfg.AddInput(models.NewLocalSource(archive.Path))
	cfg.AddOutput(masterOutputs(app, h.settings)...)
	return cfg, nil
}

func (h *localHandler) Prepare(ctx context.Context, job *models.Job, masterConfig *models.StandardJobConfig) (*models.StandardJobConfig, error) {
	master := job.MasterJob()
	archive := master.Application.ScriptArchive
	if archive == nil || !archive.Finalized {
		return nil, &models.MasterNotPreparedError{MasterFQID: master.FQID(), Reason: "the script archive has not been finalized"}
	}
	ref := master.Application.PreparedRef
	if ref == nil || !h.deps.Store.Exists(ref) {
		return nil, &models.MasterNotPreparedError{MasterFQID: master.FQID(), Reason: "the application is not prepared"}
	}
	if rejectErr := h.rejectRemote(job.InputFiles); rejectErr != nil {
		return nil, rejectErr
	}

	cfg := &models.StandardJobConfig{
		Command: scriptCommand(job, h.deps.Store.Path(ref), archive.Path),
	}
	if masterConfig != nil {
		cfg.AddInput(masterConfig.InputSandbox...)
		cfg.AddOutput(masterConfig.OutputSandbox...)
	}
	for _, local := range subjobOnlyInputs(job) {
		cfg.AddInput(local)
	}
	for _, buf := range scriptarchive.GenerateDataFiles(job) {
		cfg.AddInput(buf)
	}
	script, scriptErr := h.assembler.WorkerScript(job)
	if scriptErr != nil {
		log.Printf("ERROR: Could not render the worker script for job %s: %s", job.FQID(), scriptErr)
		return nil, scriptErr
	}
	cfg.AddInput(script)
	cfg.AddOutput(job.OutputFiles...)
	return cfg, nil
}
