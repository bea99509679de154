package dispatcher

import (
	"compress/gzip"
	"context"
	"errors"
	"github.com/guardian/sandboxprep/buildcoord"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/scriptarchive"
	"github.com/guardian/sandboxprep/sharedstore"
	"github.com/guardian/sandboxprep/uploader"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPlatform = "x86_64-centos7-gcc8-opt"

type testEnv struct {
	config   *helpers.Config
	runner   *helpers.ProcessRunnerMock
	store    *sharedstore.Store
	catalog  *uploader.CatalogMock
	transfer *uploader.TransferMock
	deps     Deps
	master   *models.Job
	tempDirs []string
}

func (e *testEnv) cleanup() {
	for _, d := range e.tempDirs {
		os.RemoveAll(d)
	}
}

func buildRunner() *helpers.ProcessRunnerMock {
	return &helpers.ProcessRunnerMock{
		OnRun: func(spec helpers.ProcessSpec) (*helpers.ProcessResult, error) {
			if spec.Argv[0] == "make" {
				targetDir := filepath.Join(spec.Dir, "build."+testPlatform, "ganga")
				os.MkdirAll(targetDir, 0755)
				f, _ := os.Create(filepath.Join(targetDir, "input-sandbox.tgz"))
				w := gzip.NewWriter(f)
				w.Write([]byte("install area"))
				w.Close()
				f.Close()
			}
			return &helpers.ProcessResult{}, nil
		},
	}
}

/**
a master job with the given number of subjobs, each running over one file
*/
func newTestEnv(t *testing.T, subjobs int, storageElements []string) *testEnv {
	projectDir, _ := ioutil.TempDir("", "dispatcher-project")
	sharedRoot, _ := ioutil.TempDir("", "dispatcher-shared")
	workspace, _ := ioutil.TempDir("", "dispatcher-workspace")
	ioutil.WriteFile(filepath.Join(projectDir, "opts.py"), []byte("from Gaudi.Configuration import *\n"), 0644)

	config := &helpers.Config{
		Scratch: helpers.ScratchStorage{LocalPath: workspace},
		Shared:  helpers.SharedStorage{Root: sharedRoot, User: "tester"},
		Storage: helpers.StorageConfig{
			LFNBase:         "/lhcb/user/t/tester",
			StorageElements: storageElements,
		},
	}
	config.ApplyDefaults()

	runner := buildRunner()
	store := sharedstore.NewStore(sharedRoot, "tester", nil)
	catalog := uploader.NewCatalogMock()
	transfer := uploader.NewTransferMock(catalog)

	app := models.NewApplication(projectDir, testPlatform, models.NewLocalSource(filepath.Join(projectDir, "opts.py")))
	master := models.NewJob(7, app, "", workspace)
	for i := 0; i < subjobs; i++ {
		master.AddSubjob([]string{"LFN:/lhcb/LHCb/Collision17/file" + string('a'+rune(i)) + ".dst"})
	}

	return &testEnv{
		config:   config,
		runner:   runner,
		store:    store,
		catalog:  catalog,
		transfer: transfer,
		deps: Deps{
			Config:    config,
			Preparer:  buildcoord.NewCoordinator(config, runner, store, nil),
			Store:     store,
			Uploader:  uploader.NewUploader(catalog, transfer, config.Storage.Redundancy, 0),
			Catalog:   catalog,
			SessionID: "testsession",
		},
		master:   master,
		tempDirs: []string{projectDir, sharedRoot, workspace},
	}
}

func TestGridEndToEnd(t *testing.T) {
	env := newTestEnv(t, 3, []string{"SE-A", "SE-B"})
	defer env.cleanup()
	env.catalog.Writable["SE-A"] = false

	handler, newErr := New(Grid, env.deps)
	if newErr != nil {
		t.Fatal("New failed unexpectedly: ", newErr)
	}
	masterCfg, masterErr := handler.MasterPrepare(context.Background(), env.master)
	if masterErr != nil {
		t.Fatal("MasterPrepare failed unexpectedly: ", masterErr)
	}

	app := env.master.Application
	if len(app.UploadedInput.Locations) != 1 || app.UploadedInput.Locations[0] != "SE-B" {
		t.Errorf("expected prepared input only at SE-B, got %v", app.UploadedInput.Locations)
	}
	archive := app.ScriptArchive
	if len(archive.Remote.Locations) != 1 || archive.Remote.Locations[0] != "SE-B" {
		t.Errorf("expected script archive only at SE-B, got %v", archive.Remote.Locations)
	}
	for _, put := range env.transfer.CallsFor("put") {
		if put.SE != "SE-B" {
			t.Errorf("put attempted to %s, which is not writable", put.SE)
		}
	}

	entries, _ := scriptarchive.ListEntries(archive.Path)
	if len(entries) != 4 {
		t.Fatalf("expected marker plus 3 scripts, got %v", entries)
	}
	markers := 0
	scripts := 0
	for _, e := range entries {
		if e == models.ARCHIVE_MARKER_ENTRY {
			markers++
		}
		if strings.HasPrefix(e, "jobScript/") {
			scripts++
		}
	}
	if markers != 1 || scripts != 3 {
		t.Errorf("expected 1 marker and 3 scripts, got %d and %d", markers, scripts)
	}

	inputLFN := "/lhcb/user/t/tester/GangaJob_7/InputFiles/7_testsession.tgz"
	archiveLFN := "/lhcb/user/t/tester/GangaJob_7/InputFiles/jobScripts-7_testsession.tar.gz"
	if app.UploadedInput.LFN != inputLFN || archive.Remote.LFN != archiveLFN {
		t.Errorf("unexpected logical names %s, %s", app.UploadedInput.LFN, archive.Remote.LFN)
	}
	if len(app.PreparedRef.AssociatedFiles) != 2 {
		t.Errorf("expected both uploads associated with the shared artifact, got %v", app.PreparedRef.AssociatedFiles)
	}

	for _, sj := range env.master.Subjobs {
		cfg, prepErr := handler.Prepare(context.Background(), sj, masterCfg)
		if prepErr != nil {
			t.Fatalf("Prepare of %s failed unexpectedly: %s", sj.FQID(), prepErr)
		}
		expectedCmd := "./jobScript/GaudiExec_Job_" + sj.FQID() + "_script.sh LFN:" + inputLFN + " LFN:" + archiveLFN
		if cfg.Command != expectedCmd {
			t.Errorf("expected command %s, got %s", expectedCmd, cfg.Command)
		}
		for _, local := range env.tempDirs {
			if strings.Contains(cfg.Command, local) {
				t.Errorf("grid command refers to local path %s", local)
			}
		}
		if !cfg.HasInput("LFN:"+inputLFN) || !cfg.HasInput("LFN:"+archiveLFN) {
			t.Errorf("sandbox is missing the uploaded files: %v", cfg.InputSandboxNames())
		}
		for _, e := range cfg.InputSandbox {
			if _, isLocal := e.(*models.LocalSource); isLocal {
				t.Errorf("grid sandbox has local file %s", e.SandboxName())
			}
		}
		if !cfg.HasInput("data.py") {
			t.Error("sandbox is missing the data file")
		}
	}
}

func TestLocalEndToEnd(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	defer env.cleanup()

	handler, newErr := New(Local, env.deps)
	if newErr != nil {
		t.Fatal("New failed unexpectedly: ", newErr)
	}
	masterCfg, masterErr := handler.MasterPrepare(context.Background(), env.master)
	if masterErr != nil {
		t.Fatal("MasterPrepare failed unexpectedly: ", masterErr)
	}
	if len(env.transfer.Calls) != 0 || len(env.catalog.WritableChecks) != 0 {
		t.Error("local backend contacted the storage fabric")
	}

	app := env.master.Application
	sharedPath := env.store.Path(app.PreparedRef)
	if !masterCfg.HasInput(filepath.Join(sharedPath, "cmake-input-sandbox.tgz")) {
		t.Errorf("sandbox is missing the build target: %v", masterCfg.InputSandboxNames())
	}
	if !masterCfg.HasInput(app.ScriptArchive.Path) {
		t.Errorf("sandbox is missing the script archive: %v", masterCfg.InputSandboxNames())
	}

	for _, sj := range env.master.Subjobs {
		cfg, prepErr := handler.Prepare(context.Background(), sj, masterCfg)
		if prepErr != nil {
			t.Fatalf("Prepare of %s failed unexpectedly: %s", sj.FQID(), prepErr)
		}
		expectedCmd := "./jobScript/GaudiExec_Job_" + sj.FQID() + "_script.sh " + sharedPath + " " + app.ScriptArchive.Path
		if cfg.Command != expectedCmd {
			t.Errorf("expected command %s, got %s", expectedCmd, cfg.Command)
		}
		if strings.Contains(cfg.Command, "LFN:") {
			t.Error("local command refers to a logical name")
		}
		if !cfg.HasInput(scriptarchive.ScriptEntryName(sj)) {
			t.Errorf("sandbox of %s is missing its worker script: %v", sj.FQID(), cfg.InputSandboxNames())
		}
		for _, entry := range cfg.InputSandbox {
			if buf, isBuf := entry.(*models.FileBuffer); isBuf && buf.SandboxName() == scriptarchive.ScriptEntryName(sj) && !buf.Executable {
				t.Error("worker script is not executable")
			}
		}
	}
	if len(env.transfer.Calls) != 0 {
		t.Error("local backend uploaded something")
	}
}

func TestSubjobBeforeMaster(t *testing.T) {
	for _, backend := range []Backend{Local, Batch, Grid} {
		env := newTestEnv(t, 2, []string{"SE-A"})
		handler, _ := New(backend, env.deps)

		_, prepErr := handler.Prepare(context.Background(), env.master.Subjobs[0], nil)
		var notReadyErr *models.MasterNotPreparedError
		if !errors.As(prepErr, &notReadyErr) {
			t.Errorf("%s: expected MasterNotPreparedError, got %v", backend, prepErr)
		}
		env.cleanup()
	}
}

func TestGridMissingReplica(t *testing.T) {
	env := newTestEnv(t, 1, []string{"SE-A"})
	defer env.cleanup()
	env.master.InputFiles = []models.FileSource{models.NewRemoteSource("LFN:/lhcb/user/t/tester/lookup.db")}

	handler, _ := New(Grid, env.deps)
	_, masterErr := handler.MasterPrepare(context.Background(), env.master)
	var missingErr *models.MissingReplicaError
	if !errors.As(masterErr, &missingErr) {
		t.Fatalf("expected MissingReplicaError, got %v", masterErr)
	}
	if missingErr.LFN != "/lhcb/user/t/tester/lookup.db" {
		t.Errorf("error names the wrong file: %s", missingErr.LFN)
	}
	if len(env.runner.CallsFor("make")) != 0 {
		t.Error("build ran even though an input was missing")
	}
}

func TestGridUploadExhausted(t *testing.T) {
	env := newTestEnv(t, 1, []string{"SE-A", "SE-B"})
	defer env.cleanup()
	env.catalog.Writable["SE-A"] = false
	env.catalog.Writable["SE-B"] = false

	handler, _ := New(Grid, env.deps)
	cfg, masterErr := handler.MasterPrepare(context.Background(), env.master)
	var exhaustedErr *models.TransferExhaustedError
	if !errors.As(masterErr, &exhaustedErr) {
		t.Fatalf("expected TransferExhaustedError, got %v", masterErr)
	}
	if cfg != nil {
		t.Error("a partial config was returned")
	}
}

func TestGridRequireRedundancy(t *testing.T) {
	env := newTestEnv(t, 1, []string{"SE-A", "SE-B"})
	defer env.cleanup()
	env.catalog.Writable["SE-A"] = false
	env.config.Storage.RequireRedundancy = true

	handler, _ := New(Grid, env.deps)
	_, masterErr := handler.MasterPrepare(context.Background(), env.master)
	var exhaustedErr *models.TransferExhaustedError
	if !errors.As(masterErr, &exhaustedErr) {
		t.Fatalf("expected TransferExhaustedError, got %v", masterErr)
	}
	if exhaustedErr.Operation != "replicate" {
		t.Errorf("expected replication to be the failure, got %s", exhaustedErr.Operation)
	}
}

func TestGridReplicatesToRedundancy(t *testing.T) {
	env := newTestEnv(t, 2, []string{"SE-A", "SE-B", "SE-C"})
	defer env.cleanup()

	handler, _ := New(Grid, env.deps)
	_, masterErr := handler.MasterPrepare(context.Background(), env.master)
	if masterErr != nil {
		t.Fatal("MasterPrepare failed unexpectedly: ", masterErr)
	}
	app := env.master.Application
	if len(app.UploadedInput.Locations) != 2 || len(app.ScriptArchive.Remote.Locations) != 2 {
		t.Errorf("expected both files at 2 locations, got %v and %v", app.UploadedInput.Locations, app.ScriptArchive.Remote.Locations)
	}
	if len(env.transfer.CallsFor("replicate")) != 2 {
		t.Errorf("expected one replication per file, got %d", len(env.transfer.CallsFor("replicate")))
	}
}

func TestGridReusesUploadedInput(t *testing.T) {
	env := newTestEnv(t, 1, []string{"SE-A", "SE-B"})
	defer env.cleanup()

	handler, _ := New(Grid, env.deps)
	handler.MasterPrepare(context.Background(), env.master)
	firstInput := env.master.Application.UploadedInput.LFN

	_, againErr := handler.MasterPrepare(context.Background(), env.master)
	if againErr != nil {
		t.Fatal("second MasterPrepare failed unexpectedly: ", againErr)
	}
	inputPuts := 0
	for _, put := range env.transfer.CallsFor("put") {
		if put.LFN == firstInput {
			inputPuts++
		}
	}
	if inputPuts != 1 {
		t.Errorf("expected the prepared input to be uploaded once, got %d", inputPuts)
	}
	if len(env.runner.CallsFor("make")) != 1 {
		t.Errorf("expected a single build, got %d", len(env.runner.CallsFor("make")))
	}

	env.catalog.Replicas[firstInput] = nil
	env.master.Application.UploadedInput.Locations = nil
	handler.MasterPrepare(context.Background(), env.master)
	inputPuts = 0
	for _, put := range env.transfer.CallsFor("put") {
		if put.LFN == firstInput {
			inputPuts++
		}
	}
	if inputPuts != 2 {
		t.Errorf("expected the prepared input to be uploaded again once lost, got %d uploads", inputPuts)
	}
}

func TestLocalRejectsRemoteFiles(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	defer env.cleanup()
	env.master.InputFiles = []models.FileSource{models.NewRemoteSource("/lhcb/user/t/tester/lookup.db")}

	handler, _ := New(Batch, env.deps)
	_, masterErr := handler.MasterPrepare(context.Background(), env.master)
	var unsupportedErr *models.BackendUnsupportedFileTypeError
	if !errors.As(masterErr, &unsupportedErr) {
		t.Fatalf("expected BackendUnsupportedFileTypeError, got %v", masterErr)
	}
	if unsupportedErr.Backend != "Batch" {
		t.Errorf("error names the wrong backend: %s", unsupportedErr.Backend)
	}
}

func TestNewValidation(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	defer env.cleanup()

	noUploader := env.deps
	noUploader.Uploader = nil
	_, gridErr := New(Grid, noUploader)
	var confErr *models.ConfigurationError
	if !errors.As(gridErr, &confErr) {
		t.Errorf("expected ConfigurationError for grid without an uploader, got %v", gridErr)
	}

	_, parseErr := ParseBackend("Dirac")
	if !errors.As(parseErr, &confErr) {
		t.Errorf("expected ConfigurationError for an unknown backend, got %v", parseErr)
	}
}
