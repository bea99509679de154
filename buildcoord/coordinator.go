package buildcoord

import (
	"context"
	"fmt"
	"github.com/davecgh/go-spew/spew"
	"github.com/guardian/sandboxprep/common/helpers"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/sharedstore"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

/**
held for the whole of a prepare, across every application. The build tool writes into one build directory per
checkout so two builds can't be allowed to overlap, even for different projects
*/
var buildLock sync.Mutex

/**
something that can bring a remote option file down into a local directory
*/
type RemoteFetcher interface {
	Fetch(ctx context.Context, src *models.RemoteSource, destDir string) (string, error)
}

type Coordinator struct {
	config  *helpers.Config
	runner  helpers.ProcessRunner
	store   *sharedstore.Store
	fetcher RemoteFetcher
}

func NewCoordinator(config *helpers.Config, runner helpers.ProcessRunner, store *sharedstore.Store, fetcher RemoteFetcher) *Coordinator {
	return &Coordinator{
		config:  config,
		runner:  runner,
		store:   store,
		fetcher: fetcher,
	}
}

/**
build the application and stage everything it needs into a new shared directory.
on success app.PreparedRef is set; on failure the application is left unprepared.
The prepared check and the assignment both happen under buildLock
*/
func (c *Coordinator) Prepare(ctx context.Context, app *models.Application, force bool) error {
	buildLock.Lock()
	defer buildLock.Unlock()

	if app.IsPrepared() {
		if !force {
			return &models.AlreadyPreparedError{Directory: app.Directory}
		}
		log.Printf("DEBUG: Forcing re-prepare of %s, releasing %s", app.Directory, app.PreparedRef.Name)
		c.Unprepare(app)
	}

	validateErr := c.validate(app)
	if validateErr != nil {
		log.Printf("ERROR: Application at %s is not valid: %s", app.Directory, validateErr)
		return validateErr
	}

	log.Printf("INFO: Preparing application at %s for %s", app.Directory, app.Platform)
	ref, allocErr := c.store.Allocate()
	if allocErr != nil {
		return allocErr
	}
	app.PreparedRef = ref

	targetPath, populateErr := c.buildAndPopulate(ctx, app, ref)
	if populateErr != nil {
		log.Printf("ERROR: Could not prepare %s, rolling back: %s", app.Directory, populateErr)
		c.Unprepare(app)
		return populateErr
	}

	cleanErr := c.cleanBuildArea(filepath.Dir(targetPath))
	if cleanErr != nil {
		log.Printf("WARNING: Could not clean build area %s: %s", filepath.Dir(targetPath), cleanErr)
	}
	log.Printf("INFO: Prepared %s into %s", app.Directory, ref.Path)
	return nil
}

func (c *Coordinator) buildAndPopulate(ctx context.Context, app *models.Application, ref *models.SharedArtifact) (string, error) {
	targetPath, buildErr := c.buildTarget(ctx, app)
	if buildErr != nil {
		return "", buildErr
	}

	_, copyErr := c.store.CopyInto(ref, targetPath)
	if copyErr != nil {
		return targetPath, copyErr
	}
	app.BuildTarget = filepath.Base(targetPath)

	for _, opt := range app.Options {
		switch src := opt.(type) {
		case *models.LocalSource:
			_, optCopyErr := c.store.CopyInto(ref, src.Path())
			if optCopyErr != nil {
				return targetPath, optCopyErr
			}
		case *models.RemoteSource:
			_, fetchErr := c.fetcher.Fetch(ctx, src, ref.Path)
			if fetchErr != nil {
				log.Printf("ERROR: Could not fetch option file %s: %s", src.LFN, fetchErr)
				return targetPath, fetchErr
			}
		default:
			return targetPath, models.NewConfigurationError("option file type %T is not supported", opt)
		}
	}

	app.EnvVars = c.captureEnvironment(ctx, app)
	app.Hash = app.PreparableHash()
	return targetPath, nil
}

/**
run the build tool and check it left a real gzip tarball where we expect it. Returns the path to the
tarball after it has been renamed to the stable name
*/
func (c *Coordinator) buildTarget(ctx context.Context, app *models.Application) (string, error) {
	spec := helpers.ProcessSpec{
		Argv:    []string{"make", c.config.Build.Target},
		Dir:     app.Directory,
		Env:     []string{"CMTCONFIG=" + app.Platform},
		Timeout: c.config.BuildTimeout(),
	}
	log.Printf("INFO: Running %s, this may take a few minutes depending on the size of the project", spec)
	result, runErr := c.runner.Run(ctx, spec)
	if runErr != nil {
		log.Printf("ERROR: Could not run build %s: %s", spec, runErr)
		return "", runErr
	}
	if result.ExitCode != 0 {
		return "", &models.BuildFailedError{
			Command:  strings.Join(spec.Argv, " "),
			Dir:      spec.Dir,
			ExitCode: result.ExitCode,
			Stderr:   helpers.DecodeProcessOutput(result.Stderr),
		}
	}

	targetDir := filepath.Join(app.Directory, "build."+app.Platform, "ganga")
	builtPath := filepath.Join(targetDir, c.config.Build.SandboxName)
	info, statErr := os.Stat(builtPath)
	if statErr != nil || !info.Mode().IsRegular() {
		return "", &models.BuildArtifactMissingError{Path: builtPath}
	}
	gzipErr := helpers.AssertGzipFile(builtPath)
	if gzipErr != nil {
		return "", &models.BuildArtifactMissingError{Path: builtPath, Reason: gzipErr.Error()}
	}

	stablePath := filepath.Join(targetDir, c.config.Build.StableName)
	renameErr := os.Rename(builtPath, stablePath)
	if renameErr != nil {
		log.Printf("ERROR: Could not rename %s to %s: %s", builtPath, stablePath, renameErr)
		return "", renameErr
	}
	log.Printf("INFO: Built %s", stablePath)
	return stablePath, nil
}

/**
snapshot the variables we care about from the project's runtime environment. The configured defaults
are used for anything the run wrapper can't tell us
*/
func (c *Coordinator) captureEnvironment(ctx context.Context, app *models.Application) map[string]string {
	env := make(map[string]string, len(c.config.Build.DefaultEnv))
	for k, v := range c.config.Build.DefaultEnv {
		env[k] = v
	}

	spec := helpers.ProcessSpec{
		Argv:    []string{c.config.Build.RunWrapper, "env"},
		Dir:     app.Directory,
		Env:     []string{"CMTCONFIG=" + app.Platform},
		Timeout: c.config.BuildTimeout(),
	}
	result, runErr := c.runner.Run(ctx, spec)
	if runErr != nil || result.ExitCode != 0 {
		log.Printf("WARNING: Could not capture environment with %s, using defaults: %s", spec, runErr)
		return env
	}
	for k, v := range helpers.ParseEnvOutput(helpers.DecodeProcessOutput(result.Stdout), c.config.Build.EnvKeys) {
		env[k] = v
	}
	return env
}

/**
remove everything from the build output directory apart from the preserved files, so a later build
can't pick up stale output
*/
func (c *Coordinator) cleanBuildArea(buildDir string) error {
	preserved := make(map[string]bool, len(c.config.Build.PreservedFiles))
	for _, name := range c.config.Build.PreservedFiles {
		preserved[name] = true
	}

	entries, readErr := ioutil.ReadDir(buildDir)
	if readErr != nil {
		return readErr
	}
	for _, e := range entries {
		if preserved[e.Name()] {
			continue
		}
		rmErr := os.RemoveAll(filepath.Join(buildDir, e.Name()))
		if rmErr != nil {
			return rmErr
		}
	}
	return nil
}

/**
forget the prepared state of the application and drop its reference on the shared directory.
Calling this on an unprepared application does nothing
*/
func (c *Coordinator) Unprepare(app *models.Application) {
	if app.PreparedRef != nil {
		_, releaseErr := c.store.Release(app.PreparedRef)
		if releaseErr != nil {
			log.Printf("WARNING: Could not release shared directory %s: %s", app.PreparedRef.Name, releaseErr)
		}
		app.PreparedRef = nil
	}
	app.Hash = ""
	app.UploadedInput = nil
	app.ScriptArchive = nil
}

func (c *Coordinator) validate(app *models.Application) error {
	if app.Directory == "" {
		return models.NewConfigurationError("no project directory has been given")
	}
	info, statErr := os.Stat(app.Directory)
	if statErr != nil || !info.IsDir() {
		return models.NewConfigurationError("project directory %s does not exist", app.Directory)
	}
	if app.Platform == "" {
		return models.NewConfigurationError("no platform has been given for %s", app.Directory)
	}
	if len(app.Options) == 0 && app.ExtraOpts == "" {
		return models.NewConfigurationError("no option files have been given for %s, please provide one", app.Directory)
	}

	for _, opt := range app.Options {
		if opt.BaseName() == models.DATA_FILE_NAME {
			return models.NewConfigurationError("option files can't be called %s, that name is reserved for the generated data file", models.DATA_FILE_NAME)
		}
		switch src := opt.(type) {
		case *models.LocalSource:
			if !src.Exists() {
				return models.NewConfigurationError("option file %s has been specified but does not exist", src.Path())
			}
		case *models.RemoteSource:
			if c.fetcher == nil {
				return models.NewConfigurationError("option file %s is remote but nothing is configured to fetch it", src.SandboxName())
			}
		default:
			log.Printf("ERROR: unsupported option file %s", spew.Sdump(opt))
			return models.NewConfigurationError("option file type %s is not supported", fmt.Sprintf("%T", opt))
		}
	}
	return nil
}
