package main

import (
	"github.com/guardian/sandboxprep/common/models"
	"io/ioutil"
	"os"
	"testing"
)

const testJobFile = `id: 7
backend: Grid
application:
  directory: /work/DaVinciDev_v45r1
  platform: x86_64-centos7-gcc8-opt
  options:
    - opts.py
    - LFN:/lhcb/user/t/tester/common_opts.py
  useRunner: false
  autoDBTags: true
inputFiles:
  - /work/lookup.db
inputData:
  - LFN:/lhcb/MC/2016/ALLSTREAMS.DST/00001/a.dst
  - LFN:/lhcb/MC/2016/ALLSTREAMS.DST/00001/b.dst
  - LFN:/lhcb/MC/2016/ALLSTREAMS.DST/00001/c.dst
filesPerJob: 2
outputFiles:
  - "*.root"
`

func TestReadJobFile(t *testing.T) {
	f, _ := ioutil.TempFile("", "job*.yaml")
	f.WriteString(testJobFile)
	f.Close()
	defer os.Remove(f.Name())

	jf, readErr := ReadJobFile(f.Name())
	if readErr != nil {
		t.Fatal("ReadJobFile failed unexpectedly: ", readErr)
	}
	master, jobErr := jf.ToJob("/scratch/workspace")
	if jobErr != nil {
		t.Fatal("ToJob failed unexpectedly: ", jobErr)
	}

	if master.ID != 7 || master.Backend != "Grid" {
		t.Errorf("unexpected id/backend %d %s", master.ID, master.Backend)
	}
	if len(master.Subjobs) != 2 {
		t.Fatalf("expected 2 subjobs, got %d", len(master.Subjobs))
	}
	if len(master.Subjobs[0].InputData) != 2 || len(master.Subjobs[1].InputData) != 1 {
		t.Errorf("input data was split wrongly: %v / %v", master.Subjobs[0].InputData, master.Subjobs[1].InputData)
	}
	if len(master.InputData) != 3 {
		t.Error("master should keep the whole dataset")
	}

	app := master.Application
	if app.UseRunner {
		t.Error("useRunner: false was ignored")
	}
	if !app.AutoDBTags {
		t.Error("autoDBTags was ignored")
	}
	local, isLocal := app.Options[0].(*models.LocalSource)
	if !isLocal || local.Path() != "/work/DaVinciDev_v45r1/opts.py" {
		t.Errorf("relative option should resolve against the application directory, got %v", app.Options[0])
	}
	remote, isRemote := app.Options[1].(*models.RemoteSource)
	if !isRemote || remote.LFN != "/lhcb/user/t/tester/common_opts.py" {
		t.Errorf("LFN option was not made remote, got %v", app.Options[1])
	}
	if master.InputWorkspace != "/scratch/workspace/7/input" {
		t.Errorf("unexpected workspace %s", master.InputWorkspace)
	}
}

func TestToJobDefaults(t *testing.T) {
	jf := &JobFile{ID: 3, Application: ApplicationSection{Directory: "/work/app"}}
	master, jobErr := jf.ToJob("/scratch")
	if jobErr != nil {
		t.Fatal("ToJob failed unexpectedly: ", jobErr)
	}
	if !master.Application.UseRunner {
		t.Error("runner should be used by default")
	}
	if len(master.Subjobs) != 0 {
		t.Error("no subjobs should be made without filesPerJob")
	}

	_, noDirErr := (&JobFile{ID: 4}).ToJob("/scratch")
	if noDirErr == nil {
		t.Error("a job with no application directory should be rejected")
	}
}
