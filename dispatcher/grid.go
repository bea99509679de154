package dispatcher

import (
	"context"
	"fmt"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/scriptarchive"
	"github.com/guardian/sandboxprep/uploader"
	"io/ioutil"
	"log"
	"os"
	"path"
	"path/filepath"
)

//the prepared input and the script archive are independent, so both can replicate at once
const replicationWorkers = 2

/**
for backends whose worker nodes can't see the shared directory. The prepared application and the script
archive are pushed onto the storage fabric and jobs refer to them only by logical name
*/
type gridHandler struct {
	deps      Deps
	settings  *helpers.BackendSettings
	assembler *scriptarchive.Assembler
}

func (h *gridHandler) candidateSEs() []string {
	return h.deps.Config.Storage.StorageElements
}

func (h *gridHandler) lfnFor(master *models.Job, baseName string) string {
	return path.Join(uploader.InputFileDir(h.deps.Config.Storage.LFNBase, master.FQID()), baseName)
}

/**
every remote file the job declares must already exist somewhere on the fabric
*/
func (h *gridHandler) checkRemoteReplicas(sources []models.FileSource, role string) error {
	for _, src := range sources {
		remote, isRemote := src.(*models.RemoteSource)
		if !isRemote {
			continue
		}
		replicas, listErr := h.deps.Catalog.ListReplicas(remote.LFN)
		if listErr != nil {
			log.Printf("ERROR: Could not list replicas of %s: %s", remote.LFN, listErr)
			return listErr
		}
		if len(replicas) == 0 {
			return &models.MissingReplicaError{LFN: remote.LFN, Role: role}
		}
		remote.Locations = replicas
	}
	return nil
}

func (h *gridHandler) MasterPrepare(ctx context.Context, job *models.Job) (*models.StandardJobConfig, error) {
	if !job.IsMaster() {
		return nil, models.NewConfigurationError("master preparation was asked for on subjob %s", job.FQID())
	}
	app := job.Application

	if checkErr := h.checkRemoteReplicas(job.InputFiles, "input file"); checkErr != nil {
		return nil, checkErr
	}
	if checkErr := h.checkRemoteReplicas(app.Options, "options file"); checkErr != nil {
		return nil, checkErr
	}

	prepErr := ensurePrepared(ctx, h.deps, app)
	if prepErr != nil {
		return nil, prepErr
	}
	copyErr := copyLocalInputs(h.deps.Store, app.PreparedRef, job.InputFiles)
	if copyErr != nil {
		return nil, copyErr
	}

	inputErr := h.ensureUploadedInput(job)
	if inputErr != nil {
		return nil, inputErr
	}

	app.ScriptArchive = nil
	archive, archiveErr := h.assembler.Assemble(job)
	if archiveErr != nil {
		return nil, archiveErr
	}
	archiveLFN := h.lfnFor(job, archive.BaseName())
	_, uploadErr := h.deps.Uploader.UploadArchive(archive, archiveLFN, h.candidateSEs())
	if uploadErr != nil {
		return nil, uploadErr
	}
	if !archive.IsUploaded() {
		return nil, &models.MissingReplicaError{LFN: archiveLFN, Role: "script archive"}
	}
	app.PreparedRef.AddAssociatedFile(archiveLFN)

	replicateErr := h.replicate(app.UploadedInput, archive.Remote)
	if replicateErr != nil {
		return nil, replicateErr
	}

	cfg := &models.StandardJobConfig{}
	cfg.AddInput(app.UploadedInput.AsSource(), archive.Remote.AsSource())
	for _, src := range app.Options {
		if remote, isRemote := src.(*models.RemoteSource); isRemote {
			cfg.AddInput(remote)
		}
	}
	for _, src := range job.InputFiles {
		if remote, isRemote := src.(*models.RemoteSource); isRemote {
			cfg.AddInput(remote)
		}
	}
	cfg.AddOutput(masterOutputs(app, h.settings)...)
	return cfg, nil
}

/**
make sure the prepared application is on the fabric. A previous upload (e.g. from a copied job) is reused as
long as the catalog still knows where it is
*/
func (h *gridHandler) ensureUploadedInput(master *models.Job) error {
	app := master.Application
	if app.UploadedInput != nil {
		replicas, listErr := h.deps.Catalog.ListReplicas(app.UploadedInput.LFN)
		if listErr != nil {
			return listErr
		}
		if len(replicas) == 0 {
			log.Printf("INFO: Previously uploaded input %s is missing from the catalog, uploading it again", app.UploadedInput.LFN)
			app.UploadedInput = nil
		} else {
			app.UploadedInput.Locations = replicas
		}
	}

	if app.UploadedInput == nil {
		rf, uploadErr := h.packAndUpload(master)
		if uploadErr != nil {
			return uploadErr
		}
		app.UploadedInput = rf
		app.PreparedRef.AddAssociatedFile(rf.LFN)
	}

	if !app.UploadedInput.HasReplica() {
		return &models.MissingReplicaError{LFN: app.UploadedInput.LFN, Role: "uploaded input"}
	}
	return nil
}

func (h *gridHandler) packAndUpload(master *models.Job) (*models.RemoteFile, error) {
	app := master.Application
	files, listErr := h.deps.Store.ListFiles(app.PreparedRef)
	if listErr != nil {
		return nil, listErr
	}

	tempDir, tempErr := ioutil.TempDir("", "preparedinput")
	if tempErr != nil {
		return nil, tempErr
	}
	defer os.RemoveAll(tempDir)

	packName := fmt.Sprintf("%d_%s.tgz", master.ID, h.deps.SessionID)
	packPath := filepath.Join(tempDir, packName)
	packErr := scriptarchive.PackFiles(packPath, files)
	if packErr != nil {
		log.Printf("ERROR: Could not pack %s: %s", app.PreparedRef.Path, packErr)
		return nil, packErr
	}

	return h.deps.Uploader.Upload(packPath, h.lfnFor(master, packName), h.candidateSEs())
}

/**
top both files up to the target redundancy at the same time. A file that can't be replicated still has the
replica it was uploaded to, so that is only fatal if the config demands full redundancy
*/
func (h *gridHandler) replicate(input *models.RemoteFile, archive *models.RemoteFile) error {
	requests := []*replicationRequest{
		{Role: "uploaded input", File: input, Candidates: h.candidateSEs()},
		{Role: "script archive", File: archive, Candidates: h.candidateSEs()},
	}
	replicateAll(h.deps.Uploader, requests, replicationWorkers)

	for _, req := range requests {
		if req.Err == nil {
			continue
		}
		if h.deps.Config.Storage.RequireRedundancy {
			return req.Err
		}
		log.Printf("WARNING: %s %s is only held at %v: %s", req.Role, req.File.LFN, req.File.Locations, req.Err)
	}
	return nil
}

func (h *gridHandler) Prepare(ctx context.Context, job *models.Job, masterConfig *models.StandardJobConfig) (*models.StandardJobConfig, error) {
	master := job.MasterJob()
	masterApp := master.Application
	archive := masterApp.ScriptArchive
	if archive == nil || !archive.Finalized {
		return nil, &models.MasterNotPreparedError{MasterFQID: master.FQID(), Reason: "the script archive has not been finalized"}
	}
	if !archive.IsUploaded() {
		return nil, &models.MasterNotPreparedError{MasterFQID: master.FQID(), Reason: "the script archive has not been uploaded"}
	}
	if masterApp.UploadedInput == nil || !masterApp.UploadedInput.HasReplica() {
		return nil, &models.MasterNotPreparedError{MasterFQID: master.FQID(), Reason: "the prepared input has not been uploaded"}
	}
	if !job.IsMaster() {
		if checkErr := h.checkRemoteReplicas(job.InputFiles, "input file"); checkErr != nil {
			return nil, checkErr
		}
	}

	cfg := &models.StandardJobConfig{
		Command: scriptCommand(job, masterApp.UploadedInput.AsSource().SandboxName(), archive.Remote.AsSource().SandboxName()),
	}
	if masterConfig != nil {
		cfg.AddInput(masterConfig.InputSandbox...)
		cfg.AddOutput(masterConfig.OutputSandbox...)
	} else {
		cfg.AddInput(masterApp.UploadedInput.AsSource(), archive.Remote.AsSource())
	}
	for _, src := range job.InputFiles {
		if remote, isRemote := src.(*models.RemoteSource); isRemote {
			cfg.AddInput(remote)
		}
	}
	for _, local := range subjobOnlyInputs(job) {
		cfg.AddInput(local)
	}
	for _, buf := range scriptarchive.GenerateDataFiles(job) {
		cfg.AddInput(buf)
	}
	cfg.AddOutput(job.OutputFiles...)
	return cfg, nil
}
