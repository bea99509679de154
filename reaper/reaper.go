package main

import (
	"github.com/guardian/sandboxprep/batchlauncher"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/sharedstore"
	"github.com/guardian/sandboxprep/uploader"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	v1 "k8s.io/client-go/kubernetes/typed/batch/v1"
	"log"
	"os"
	"path"
	"time"
)

type LFNLister interface {
	ListLFNs(prefix string) ([]string, error)
}

/**
which shared directory each submitted master job holds
*/
type JobAssignments interface {
	AssignedTo(jobID string) (string, error)
	Unassign(jobID string) error
}

/**
cleans up after finished jobs: their share of the prepared directory, surplus replicas of their uploaded
input files and, for the batch backend, their kubernetes jobs
*/
type Reaper struct {
	Store       *sharedstore.Store
	Assignments JobAssignments
	Catalog     LFNLister
	Uploader    *uploader.Uploader
	LFNBase     string
	JobClient   v1.JobInterface //nil if there is no kubernetes to tidy
	Keep        int
	MinAge      time.Duration
	DryRun      bool
}

/**
remove shared directories that nothing holds a count on. Directories younger than MinAge are left alone as
they may still be being set up
*/
func (r *Reaper) ReapOrphans() (int, error) {
	orphans, listErr := r.Store.Orphans()
	if listErr != nil {
		log.Printf("ERROR: Could not list orphaned shared directories: %s", listErr)
		return 0, listErr
	}
	removed := 0
	for _, ref := range orphans {
		info, statErr := os.Stat(ref.Path)
		if statErr != nil {
			continue
		}
		if time.Since(info.ModTime()) < r.MinAge {
			log.Printf("DEBUG: %s is too new to reap", ref.Path)
			continue
		}
		log.Printf("INFO: Removing orphaned shared directory %s", ref.Path)
		if r.DryRun {
			continue
		}
		rmErr := os.RemoveAll(ref.Path)
		if rmErr != nil {
			log.Printf("WARNING: Could not remove %s: %s", ref.Path, rmErr)
			continue
		}
		removed += 1
	}
	return removed, nil
}

/**
drop the finished job's reference to its shared directory
*/
func (r *Reaper) ReleaseJob(masterFQID string) error {
	name, getErr := r.Assignments.AssignedTo(masterFQID)
	if getErr != nil {
		return getErr
	}
	if name == "" {
		log.Printf("WARNING: No shared directory is recorded for job %s", masterFQID)
		return nil
	}
	log.Printf("INFO: Releasing %s for job %s", name, masterFQID)
	if r.DryRun {
		return nil
	}
	remaining, releaseErr := r.Store.Release(r.Store.Ref(name))
	if releaseErr != nil {
		return releaseErr
	}
	log.Printf("DEBUG: %s now has %d references", name, remaining)
	return r.Assignments.Unassign(masterFQID)
}

/**
cut every file uploaded for the job down to Keep replicas
*/
func (r *Reaper) TrimJob(masterFQID string) error {
	if r.Uploader == nil || r.Catalog == nil {
		return nil
	}
	lfns, listErr := r.Catalog.ListLFNs(uploader.InputFileDir(r.LFNBase, masterFQID) + "/")
	if listErr != nil {
		return listErr
	}
	for _, lfn := range lfns {
		log.Printf("INFO: Trimming %s to %d replicas", lfn, r.Keep)
		if r.DryRun {
			continue
		}
		trimErr := r.Uploader.TrimReplicas(&models.RemoteFile{LFN: lfn}, r.Keep)
		if trimErr != nil {
			log.Printf("WARNING: Could not trim %s: %s", path.Base(lfn), trimErr)
		}
	}
	return nil
}

/**
delete the kubernetes jobs launched for the master once they have stopped running
*/
func (r *Reaper) DeleteLaunched(masterFQID string) error {
	if r.JobClient == nil {
		return nil
	}
	launched, findErr := batchlauncher.FindLaunched(masterFQID, r.JobClient)
	if findErr != nil {
		return findErr
	}

	var dryRunValue []string
	if r.DryRun {
		dryRunValue = []string{"All"}
	}
	for _, k8job := range launched {
		if k8job.Status == batchlauncher.LAUNCH_ACTIVE {
			log.Printf("%s seems to still be active, not removing it.", k8job.Name)
			continue
		}
		err := r.JobClient.Delete(k8job.Name, &metav1.DeleteOptions{DryRun: dryRunValue})
		if err != nil {
			//not a fatal error
			log.Printf("ERROR: Could not delete k8 job %s for job %s: %s", k8job.Name, k8job.JobID, err)
		}
	}
	return nil
}

/**
everything that should happen once a master job and all its subjobs are done
*/
func (r *Reaper) FinishJob(masterFQID string) error {
	if deleteErr := r.DeleteLaunched(masterFQID); deleteErr != nil {
		return deleteErr
	}
	if trimErr := r.TrimJob(masterFQID); trimErr != nil {
		return trimErr
	}
	return r.ReleaseJob(masterFQID)
}
