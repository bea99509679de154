package models

import "path"

/**
an artifact that has been uploaded to the storage fabric
*/
type RemoteFile struct {
	LFN           string   `json:"lfn"`
	Locations     []string `json:"locations"`
	FailureReason string   `json:"failureReason"`
	LocalPath     string   `json:"localPath"`
}

func (r *RemoteFile) HasReplica() bool {
	return len(r.Locations) > 0
}

func (r *RemoteFile) HasLocation(se string) bool {
	for _, loc := range r.Locations {
		if loc == se {
			return true
		}
	}
	return false
}

func (r *RemoteFile) AddLocation(se string) {
	if !r.HasLocation(se) {
		r.Locations = append(r.Locations, se)
	}
}

func (r *RemoteFile) RemoveLocation(se string) {
	updated := r.Locations[:0]
	for _, loc := range r.Locations {
		if loc != se {
			updated = append(updated, loc)
		}
	}
	r.Locations = updated
}

func (r *RemoteFile) BaseName() string {
	return path.Base(r.LFN)
}

/**
the sandbox form of this file, which is how jobs reference it
*/
func (r *RemoteFile) AsSource() *RemoteSource {
	return &RemoteSource{LFN: r.LFN, Locations: append([]string{}, r.Locations...)}
}
