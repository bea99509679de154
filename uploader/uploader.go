package uploader

import (
	"context"
	"fmt"
	"github.com/davecgh/go-spew/spew"
	"github.com/deckarep/golang-set"
	"github.com/guardian/sandboxprep/common/models"
	"log"
	"math/rand"
	"path"
	"sort"
	"sync"
	"time"
)

/**
pushes files onto the storage fabric, spreading load by trying storage elements in random order
*/
type Uploader struct {
	catalog    Catalog
	transfer   Transfer
	redundancy int
	timeout    time.Duration
	shuffle    func([]string)
}

func NewUploader(catalog Catalog, transfer Transfer, redundancy int, timeout time.Duration) *Uploader {
	return &Uploader{
		catalog:    catalog,
		transfer:   transfer,
		redundancy: redundancy,
		timeout:    timeout,
		shuffle:    randomShuffle,
	}
}

/**
replace the candidate ordering function, tests use this to get a predictable order
*/
func (u *Uploader) WithShuffle(shuffle func([]string)) *Uploader {
	u.shuffle = shuffle
	return u
}

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))
var rngMutex sync.Mutex

func randomShuffle(list []string) {
	rngMutex.Lock()
	defer rngMutex.Unlock()
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
}

/**
logical directory that holds the input files for a master job
*/
func InputFileDir(lfnBase string, masterFQID string) string {
	return path.Join(lfnBase, fmt.Sprintf("GangaJob_%s", masterFQID), "InputFiles")
}

func (u *Uploader) Redundancy() int {
	return u.redundancy
}

/**
upload the local file as the given logical name to the first writable storage element that accepts it
*/
func (u *Uploader) Upload(localPath string, lfn string, candidateSEs []string) (*models.RemoteFile, error) {
	candidates := append([]string{}, candidateSEs...)
	u.shuffle(candidates)

	rf := &models.RemoteFile{LFN: lfn, LocalPath: localPath}
	for _, se := range candidates {
		if !u.isWritable(se) {
			continue
		}

		ctx, cancel := u.transferContext()
		result, putErr := u.transfer.Put(ctx, localPath, lfn, se, true)
		cancel()
		if putErr != nil {
			log.Printf("WARNING: Upload of %s as %s to %s failed, trying another SE: %s", localPath, lfn, se, putErr)
			continue
		}
		if result == nil {
			log.Printf("WARNING: Upload of %s to %s returned nothing, trying another SE", lfn, se)
			continue
		}
		if result.FailureReason != "" {
			log.Printf("WARNING: Upload of %s to %s failed, trying another SE: %s", lfn, se, result.FailureReason)
			continue
		}

		rf.Locations = append([]string{}, result.Locations...)
		if len(rf.Locations) == 0 {
			rf.Locations = []string{se}
		}
		log.Printf("INFO: Uploaded %s as %s to %s", localPath, lfn, se)
		return rf, nil
	}

	log.Printf("ERROR: Could not upload %s to any of %s", lfn, spew.Sdump(candidates))
	return nil, &models.TransferExhaustedError{Operation: "upload", File: lfn, Tried: candidates}
}

/**
upload a script archive. Only a finalized archive can be uploaded, anything else could still be growing
*/
func (u *Uploader) UploadArchive(archive *models.JobScriptArchive, lfn string, candidateSEs []string) (*models.RemoteFile, error) {
	if !archive.Finalized {
		return nil, &models.ArchiveNotFinalizedError{Path: archive.Path}
	}
	rf, uploadErr := u.Upload(archive.Path, lfn, candidateSEs)
	if uploadErr != nil {
		return nil, uploadErr
	}
	archive.Remote = rf
	return rf, nil
}

/**
add replicas of the file on further storage elements until it is held in `redundancy` places.
the catalog's current replicas are merged into the file's locations first, a file that is already redundant
is left alone without any transfer
*/
func (u *Uploader) Replicate(rf *models.RemoteFile, candidateSEs []string) error {
	replicas, listErr := u.catalog.ListReplicas(rf.LFN)
	if listErr != nil {
		log.Printf("ERROR: Could not list replicas of %s: %s", rf.LFN, listErr)
		return listErr
	}
	for _, se := range replicas {
		rf.AddLocation(se)
	}
	if len(rf.Locations) >= u.redundancy {
		log.Printf("DEBUG: %s is already at %d locations, not replicating again", rf.LFN, len(rf.Locations))
		return nil
	}

	candidates := u.replicationCandidates(rf, candidateSEs)
	tried := make([]string, 0, len(candidates))
	for _, se := range candidates {
		tried = append(tried, se)
		if !u.isWritable(se) {
			continue
		}
		ctx, cancel := u.transferContext()
		replicateErr := u.transfer.Replicate(ctx, rf.LFN, se)
		cancel()
		if replicateErr != nil {
			log.Printf("WARNING: Failed to replicate %s to %s, trying another SE: %s", rf.LFN, se, replicateErr)
			continue
		}
		rf.AddLocation(se)
		log.Printf("INFO: Replicated %s to %s", rf.LFN, se)
		if len(rf.Locations) >= u.redundancy {
			return nil
		}
	}
	return &models.TransferExhaustedError{Operation: "replicate", File: rf.LFN, Tried: tried}
}

func (u *Uploader) replicationCandidates(rf *models.RemoteFile, candidateSEs []string) []string {
	existing := mapset.NewSet()
	for _, loc := range rf.Locations {
		existing.Add(loc)
	}
	all := mapset.NewSet()
	for _, se := range candidateSEs {
		all.Add(se)
	}

	remaining := all.Difference(existing).ToSlice()
	rtn := make([]string, 0, len(remaining))
	for _, se := range remaining {
		rtn = append(rtn, se.(string))
	}
	sort.Strings(rtn)
	u.shuffle(rtn)
	return rtn
}

/**
remove replicas at random until only `keep` remain. Used once jobs have finished with the input files
*/
func (u *Uploader) TrimReplicas(rf *models.RemoteFile, keep int) error {
	if len(rf.Locations) == 0 {
		replicas, listErr := u.catalog.ListReplicas(rf.LFN)
		if listErr != nil {
			return listErr
		}
		rf.Locations = replicas
	}
	if len(rf.Locations) <= keep {
		return nil
	}

	candidates := append([]string{}, rf.Locations...)
	u.shuffle(candidates)
	var lastErr error
	for _, se := range candidates {
		if len(rf.Locations) <= keep {
			break
		}
		removeErr := u.transfer.RemoveReplica(rf.LFN, se)
		if removeErr != nil {
			log.Printf("WARNING: Could not remove replica of %s at %s: %s", rf.LFN, se, removeErr)
			lastErr = removeErr
			continue
		}
		rf.RemoveLocation(se)
	}
	if len(rf.Locations) > keep {
		return lastErr
	}
	return nil
}

func (u *Uploader) isWritable(se string) bool {
	writable, checkErr := u.catalog.CheckWritable(se)
	if checkErr != nil {
		log.Printf("WARNING: Could not check status of %s: %s", se, checkErr)
		return false
	}
	if !writable {
		log.Printf("DEBUG: %s is not writable, skipping", se)
	}
	return writable
}

/**
deadline for a single transfer call. Enforcing it is up to the transport, the call is always waited for
*/
func (u *Uploader) transferContext() (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), u.timeout)
}
