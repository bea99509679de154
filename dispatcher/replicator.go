package dispatcher

import (
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/uploader"
	"log"
	"sync"
)

type replicationRequest struct {
	Role       string
	File       *models.RemoteFile
	Candidates []string
	Err        error
}

func replicatorThread(u *uploader.Uploader, inputCh chan *replicationRequest, waitGroup *sync.WaitGroup) {
	defer waitGroup.Done()
	for {
		rec := <-inputCh
		if rec == nil {
			return
		}
		rec.Err = u.Replicate(rec.File, rec.Candidates)
		if rec.Err != nil {
			log.Printf("WARNING: replicatorThread could not replicate %s %s: %s", rec.Role, rec.File.LFN, rec.Err)
		} else {
			log.Printf("DEBUG: replicatorThread %s %s is now at %v", rec.Role, rec.File.LFN, rec.File.Locations)
		}
	}
}

/**
replicate every requested file on a pool of `parallel` workers, returning once they have all been tried.
the outcome of each is left in its Err field
*/
func replicateAll(u *uploader.Uploader, requests []*replicationRequest, parallel int) {
	inputCh := make(chan *replicationRequest, len(requests)+parallel)
	waitGroup := &sync.WaitGroup{}

	for i := 0; i < parallel; i++ {
		waitGroup.Add(1)
		go replicatorThread(u, inputCh, waitGroup)
	}
	for _, req := range requests {
		inputCh <- req
	}
	for i := 0; i < parallel; i++ {
		inputCh <- nil
	}
	waitGroup.Wait()
}
