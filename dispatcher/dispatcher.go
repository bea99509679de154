package dispatcher

import (
	"context"
	"fmt"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/scriptarchive"
	"github.com/guardian/sandboxprep/sharedstore"
	"github.com/guardian/sandboxprep/uploader"
	"log"
)

type Backend string

const (
	Local Backend = "Local"
	Batch Backend = "Batch"
	Grid  Backend = "Grid"
)

func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case Local, Batch, Grid:
		return Backend(name), nil
	default:
		return "", models.NewConfigurationError("unknown backend '%s', expected one of Local, Batch, Grid", name)
	}
}

//environment set-up used when the config doesn't give one for the backend
var defaultBootstrap = map[Backend]string{
	Local: "export CMTCONFIG=%PLATFORM%",
	Batch: "export CMTCONFIG=%PLATFORM%; source /cvmfs/lhcb.cern.ch/lib/LbEnv",
	Grid:  "export CMTCONFIG=%PLATFORM%; source /cvmfs/lhcb.cern.ch/lib/LbEnv",
}

/**
turns a job into the configuration handed to the scheduler. MasterPrepare runs once per master job and
Prepare once for every job that will actually run
*/
type RuntimeHandler interface {
	MasterPrepare(ctx context.Context, job *models.Job) (*models.StandardJobConfig, error)
	Prepare(ctx context.Context, job *models.Job, masterConfig *models.StandardJobConfig) (*models.StandardJobConfig, error)
}

type Preparer interface {
	Prepare(ctx context.Context, app *models.Application, force bool) error
}

type Deps struct {
	Config    *helpers.Config
	Preparer  Preparer
	Store     *sharedstore.Store
	Uploader  *uploader.Uploader
	Catalog   uploader.Catalog
	DBTags    scriptarchive.DBTagSource
	SessionID string
}

func New(backend Backend, deps Deps) (RuntimeHandler, error) {
	if deps.Config == nil || deps.Preparer == nil || deps.Store == nil {
		return nil, models.NewConfigurationError("the %s backend needs a config, a preparer and a shared store", backend)
	}
	settings, settingsErr := deps.Config.SettingsFor(string(backend))
	if settingsErr != nil {
		return nil, settingsErr
	}
	if settings.EnvBootstrap == "" {
		settings.EnvBootstrap = defaultBootstrap[backend]
	}
	if deps.SessionID == "" {
		deps.SessionID = scriptarchive.SessionID()
	}
	assembler := scriptarchive.NewAssembler(deps.Config, settings, deps.DBTags, deps.SessionID)

	switch backend {
	case Local, Batch:
		return &localHandler{backend: backend, deps: deps, settings: settings, assembler: assembler}, nil
	case Grid:
		if deps.Uploader == nil || deps.Catalog == nil {
			return nil, models.NewConfigurationError("the Grid backend needs an uploader and a catalog")
		}
		if deps.Config.Storage.LFNBase == "" {
			return nil, models.NewConfigurationError("storage.lfnBase must be set to use the Grid backend")
		}
		return &gridHandler{deps: deps, settings: settings, assembler: assembler}, nil
	default:
		return nil, models.NewConfigurationError("unknown backend '%s'", backend)
	}
}

/**
prepare the application if it hasn't been yet, or if its shared directory has gone away underneath it
*/
func ensurePrepared(ctx context.Context, deps Deps, app *models.Application) error {
	if app.IsPrepared() && deps.Store.Exists(app.PreparedRef) {
		return nil
	}
	force := false
	if app.IsPrepared() {
		log.Printf("WARNING: Shared directory %s for %s has gone, preparing again", app.PreparedRef.Path, app.Directory)
		force = true
	}
	return deps.Preparer.Prepare(ctx, app, force)
}

/**
the master's local input files travel with the prepared application
*/
func copyLocalInputs(store *sharedstore.Store, ref *models.SharedArtifact, inputs []models.FileSource) error {
	for _, input := range inputs {
		if local, isLocal := input.(*models.LocalSource); isLocal {
			_, copyErr := store.CopyInto(ref, local.Path())
			if copyErr != nil {
				return copyErr
			}
		}
	}
	return nil
}

/**
local input files that the subjob has and its master doesn't
*/
func subjobOnlyInputs(job *models.Job) []*models.LocalSource {
	rtn := make([]*models.LocalSource, 0)
	if job.IsMaster() {
		return rtn
	}
	for _, input := range job.InputFiles {
		local, isLocal := input.(*models.LocalSource)
		if !isLocal {
			continue
		}
		inMaster := false
		for _, masterInput := range job.Master.InputFiles {
			if masterInput.SandboxName() == local.SandboxName() {
				inMaster = true
				break
			}
		}
		if !inMaster {
			rtn = append(rtn, local)
		}
	}
	return rtn
}

func masterOutputs(app *models.Application, settings *helpers.BackendSettings) []string {
	rtn := make([]string, 0)
	if app.GetMetadata {
		rtn = append(rtn, scriptarchive.SUMMARY_OUTPUT)
	}
	return append(rtn, settings.OutputPatterns...)
}

func scriptCommand(job *models.Job, preparedRef string, archiveRef string) string {
	return fmt.Sprintf("./%s %s %s", scriptarchive.ScriptEntryName(job), preparedRef, archiveRef)
}
