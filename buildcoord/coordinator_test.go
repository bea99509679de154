package buildcoord

import (
	"compress/gzip"
	"context"
	"errors"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/sharedstore"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testPlatform = "x86_64-centos7-gcc8-opt"

func writeGzip(t *testing.T, path string) {
	f, createErr := os.Create(path)
	if createErr != nil {
		t.Fatal("could not create test tarball: ", createErr)
	}
	defer f.Close()
	w := gzip.NewWriter(f)
	w.Write([]byte("pretend this is a tarball of the install area"))
	w.Close()
}

/**
a runner that behaves like the build tool: `make` drops a gzip file (plus the run wrapper) in the target area
and `./run env` prints a few variables
*/
func fakeBuild(t *testing.T, writeOutput func(targetDir string)) *helpers.ProcessRunnerMock {
	return &helpers.ProcessRunnerMock{
		OnRun: func(spec helpers.ProcessSpec) (*helpers.ProcessResult, error) {
			switch spec.Argv[0] {
			case "make":
				targetDir := filepath.Join(spec.Dir, "build."+testPlatform, "ganga")
				os.MkdirAll(targetDir, 0755)
				ioutil.WriteFile(filepath.Join(targetDir, "run"), []byte("#!/bin/sh\n"), 0755)
				ioutil.WriteFile(filepath.Join(targetDir, "leftover.o"), []byte("junk"), 0644)
				if writeOutput != nil {
					writeOutput(targetDir)
				}
				return &helpers.ProcessResult{}, nil
			case "./run":
				return &helpers.ProcessResult{Stdout: []byte("XMLSUMMARYBASEROOT=/opt/xmlsummary\nHOME=/home/user\nBROKEN=a=b\n")}, nil
			default:
				return &helpers.ProcessResult{ExitCode: 127}, nil
			}
		},
	}
}

func setup(t *testing.T, runner helpers.ProcessRunner) (*Coordinator, *sharedstore.Store, *models.Application, func()) {
	projectDir, _ := ioutil.TempDir("", "buildcoord-project")
	sharedRoot, _ := ioutil.TempDir("", "buildcoord-shared")
	ioutil.WriteFile(filepath.Join(projectDir, "myopts.py"), []byte("from Gaudi.Configuration import *\n"), 0644)

	conf, _ := helpers.ParseConfig([]byte("shared:\n  root: " + sharedRoot + "\n"))
	store := sharedstore.NewStore(sharedRoot, "tester", nil)
	coord := NewCoordinator(conf, runner, store, nil)
	app := models.NewApplication(projectDir, testPlatform, models.NewLocalSource(filepath.Join(projectDir, "myopts.py")))

	return coord, store, app, func() {
		os.RemoveAll(projectDir)
		os.RemoveAll(sharedRoot)
	}
}

func TestPrepareSuccess(t *testing.T) {
	runner := fakeBuild(t, func(targetDir string) {
		writeGzip(t, filepath.Join(targetDir, "input-sandbox.tgz"))
	})
	coord, store, app, cleanup := setup(t, runner)
	defer cleanup()

	prepErr := coord.Prepare(context.Background(), app, false)
	if prepErr != nil {
		t.Fatal("Prepare failed unexpectedly: ", prepErr)
	}
	if !app.IsPrepared() {
		t.Fatal("application not marked as prepared")
	}
	if !store.Exists(app.PreparedRef) {
		t.Error("shared directory does not exist after prepare")
	}
	if app.BuildTarget != "cmake-input-sandbox.tgz" {
		t.Errorf("expected stable build target name, got %s", app.BuildTarget)
	}
	if app.Hash == "" {
		t.Error("hash was not set")
	}
	if app.EnvVars["XMLSUMMARYBASEROOT"] != "/opt/xmlsummary" {
		t.Errorf("environment was not captured, got %v", app.EnvVars)
	}
	if _, haveHome := app.EnvVars["HOME"]; haveHome {
		t.Error("environment capture kept a key it was not asked for")
	}

	files, _ := store.ListFiles(app.PreparedRef)
	if len(files) != 2 {
		t.Fatalf("expected build target and options in shared dir, got %v", files)
	}
	if filepath.Base(files[0]) != "cmake-input-sandbox.tgz" || filepath.Base(files[1]) != "myopts.py" {
		t.Errorf("unexpected shared dir content %v", files)
	}

	makeCalls := runner.CallsFor("make")
	if len(makeCalls) != 1 {
		t.Fatalf("expected one make call, got %d", len(makeCalls))
	}
	if makeCalls[0].Argv[1] != "ganga-input-sandbox" || makeCalls[0].Dir != app.Directory {
		t.Errorf("unexpected make invocation %s", makeCalls[0])
	}
	if makeCalls[0].Timeout != time.Hour {
		t.Errorf("expected default timeout of an hour, got %s", makeCalls[0].Timeout)
	}

	remaining, _ := ioutil.ReadDir(filepath.Join(app.Directory, "build."+testPlatform, "ganga"))
	if len(remaining) != 1 || remaining[0].Name() != "run" {
		t.Errorf("build area was not cleaned down to the run wrapper, got %d entries", len(remaining))
	}
}

func TestPrepareTwice(t *testing.T) {
	runner := fakeBuild(t, func(targetDir string) {
		writeGzip(t, filepath.Join(targetDir, "input-sandbox.tgz"))
	})
	coord, store, app, cleanup := setup(t, runner)
	defer cleanup()

	coord.Prepare(context.Background(), app, false)
	firstRef := app.PreparedRef

	secondErr := coord.Prepare(context.Background(), app, false)
	var alreadyErr *models.AlreadyPreparedError
	if !errors.As(secondErr, &alreadyErr) {
		t.Errorf("expected AlreadyPreparedError, got %v", secondErr)
	}
	if app.PreparedRef != firstRef {
		t.Error("failed prepare changed the prepared reference")
	}

	forceErr := coord.Prepare(context.Background(), app, true)
	if forceErr != nil {
		t.Fatal("forced prepare failed unexpectedly: ", forceErr)
	}
	if app.PreparedRef == nil || app.PreparedRef.Name == firstRef.Name {
		t.Error("forced prepare did not allocate a new shared directory")
	}
	if store.Exists(firstRef) {
		t.Error("forced prepare did not release the old shared directory")
	}
}

func TestPrepareMissingArtifact(t *testing.T) {
	runner := fakeBuild(t, nil)
	coord, store, app, cleanup := setup(t, runner)
	defer cleanup()

	prepErr := coord.Prepare(context.Background(), app, false)
	var missingErr *models.BuildArtifactMissingError
	if !errors.As(prepErr, &missingErr) {
		t.Fatalf("expected BuildArtifactMissingError, got %v", prepErr)
	}
	expectedPath := filepath.Join(app.Directory, "build."+testPlatform, "ganga", "input-sandbox.tgz")
	if missingErr.Path != expectedPath {
		t.Errorf("error should name %s, got %s", expectedPath, missingErr.Path)
	}
	if app.IsPrepared() {
		t.Error("application left prepared after a failed build")
	}
	leftover, _ := ioutil.ReadDir(store.BaseDir())
	if len(leftover) != 0 {
		t.Errorf("failed prepare left %d shared directories behind", len(leftover))
	}
}

func TestPrepareNotGzip(t *testing.T) {
	runner := fakeBuild(t, func(targetDir string) {
		ioutil.WriteFile(filepath.Join(targetDir, "input-sandbox.tgz"), []byte("make: *** error"), 0644)
	})
	coord, _, app, cleanup := setup(t, runner)
	defer cleanup()

	prepErr := coord.Prepare(context.Background(), app, false)
	var missingErr *models.BuildArtifactMissingError
	if !errors.As(prepErr, &missingErr) {
		t.Fatalf("expected BuildArtifactMissingError, got %v", prepErr)
	}
	if missingErr.Reason == "" {
		t.Error("expected a reason for the unusable artifact")
	}
	if app.IsPrepared() {
		t.Error("application left prepared after a failed build")
	}
}

func TestPrepareBuildFails(t *testing.T) {
	runner := &helpers.ProcessRunnerMock{
		OnRun: func(spec helpers.ProcessSpec) (*helpers.ProcessResult, error) {
			return &helpers.ProcessResult{ExitCode: 2, Stderr: []byte("no rule to make target")}, nil
		},
	}
	coord, _, app, cleanup := setup(t, runner)
	defer cleanup()

	prepErr := coord.Prepare(context.Background(), app, false)
	var failedErr *models.BuildFailedError
	if !errors.As(prepErr, &failedErr) {
		t.Fatalf("expected BuildFailedError, got %v", prepErr)
	}
	if failedErr.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", failedErr.ExitCode)
	}
	if app.IsPrepared() {
		t.Error("application left prepared after a failed build")
	}
}

func TestPrepareValidation(t *testing.T) {
	runner := fakeBuild(t, nil)
	coord, _, app, cleanup := setup(t, runner)
	defer cleanup()

	ioutil.WriteFile(filepath.Join(app.Directory, "data.py"), []byte(""), 0644)
	tests := []*models.Application{
		models.NewApplication("", testPlatform, app.Options...),
		models.NewApplication(filepath.Join(app.Directory, "notthere"), testPlatform, app.Options...),
		models.NewApplication(app.Directory, "", app.Options...),
		models.NewApplication(app.Directory, testPlatform),
		models.NewApplication(app.Directory, testPlatform, models.NewLocalSource(filepath.Join(app.Directory, "missing.py"))),
		models.NewApplication(app.Directory, testPlatform, models.NewLocalSource(filepath.Join(app.Directory, "data.py"))),
		models.NewApplication(app.Directory, testPlatform, models.NewRemoteSource("LFN:/lhcb/user/t/opts.py")),
	}

	for i, badApp := range tests {
		prepErr := coord.Prepare(context.Background(), badApp, false)
		var confErr *models.ConfigurationError
		if !errors.As(prepErr, &confErr) {
			t.Errorf("case %d: expected ConfigurationError, got %v", i, prepErr)
		}
		if badApp.IsPrepared() {
			t.Errorf("case %d: invalid application was marked prepared", i)
		}
	}
	if len(runner.CallsFor("make")) != 0 {
		t.Error("build ran for an invalid application")
	}
}

func TestUnprepareIdempotent(t *testing.T) {
	runner := fakeBuild(t, func(targetDir string) {
		writeGzip(t, filepath.Join(targetDir, "input-sandbox.tgz"))
	})
	coord, store, app, cleanup := setup(t, runner)
	defer cleanup()

	coord.Prepare(context.Background(), app, false)
	ref := app.PreparedRef
	app.UploadedInput = &models.RemoteFile{LFN: "/some/lfn"}

	coord.Unprepare(app)
	if app.IsPrepared() || app.Hash != "" || app.UploadedInput != nil {
		t.Error("unprepare did not clear prepared state")
	}
	if store.Exists(ref) {
		t.Error("unprepare did not remove the shared directory")
	}
	coord.Unprepare(app)
	if app.IsPrepared() {
		t.Error("second unprepare changed state")
	}
}

func TestBuildsAreSerialised(t *testing.T) {
	var inFlight int32
	var maxInFlight int32
	runner := &helpers.ProcessRunnerMock{
		OnRun: func(spec helpers.ProcessSpec) (*helpers.ProcessResult, error) {
			if spec.Argv[0] != "make" {
				return &helpers.ProcessResult{}, nil
			}
			current := atomic.AddInt32(&inFlight, 1)
			if current > atomic.LoadInt32(&maxInFlight) {
				atomic.StoreInt32(&maxInFlight, current)
			}
			time.Sleep(20 * time.Millisecond)
			targetDir := filepath.Join(spec.Dir, "build."+testPlatform, "ganga")
			os.MkdirAll(targetDir, 0755)
			writeGzip(t, filepath.Join(targetDir, "input-sandbox.tgz"))
			atomic.AddInt32(&inFlight, -1)
			return &helpers.ProcessResult{}, nil
		},
	}

	var apps []*models.Application
	var coords []*Coordinator
	for i := 0; i < 4; i++ {
		coord, _, app, cleanup := setup(t, runner)
		defer cleanup()
		apps = append(apps, app)
		coords = append(coords, coord)
	}

	var wg sync.WaitGroup
	for i := range apps {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			prepErr := coords[idx].Prepare(context.Background(), apps[idx], false)
			if prepErr != nil {
				t.Errorf("prepare %d failed: %s", idx, prepErr)
			}
		}(i)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("expected builds to be serialised, saw %d running at once", maxInFlight)
	}
}

func TestConcurrentPrepareOfOneApplication(t *testing.T) {
	var builds int32
	runner := fakeBuild(t, func(targetDir string) {
		atomic.AddInt32(&builds, 1)
		writeGzip(t, filepath.Join(targetDir, "input-sandbox.tgz"))
	})
	coord, _, app, cleanup := setup(t, runner)
	defer cleanup()

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = coord.Prepare(context.Background(), app, false)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, prepErr := range results {
		var alreadyErr *models.AlreadyPreparedError
		switch {
		case prepErr == nil:
			succeeded++
		case !errors.As(prepErr, &alreadyErr):
			t.Errorf("unexpected error from a concurrent prepare: %s", prepErr)
		}
	}
	if succeeded != 1 || atomic.LoadInt32(&builds) != 1 {
		t.Errorf("expected exactly one prepare to build, got %d successes and %d builds", succeeded, builds)
	}
	if !app.IsPrepared() {
		t.Error("application was left unprepared")
	}
}
