package uploader

import "context"

/**
the catalog/replica oracle. Answers questions, never moves data
*/
type Catalog interface {
	ListReplicas(lfn string) ([]string, error)
	CheckWritable(se string) (bool, error)
}

type PutResult struct {
	Locations     []string
	FailureReason string
}

/**
the remote transfer primitive. A Put can fail by returning an error or by returning a result with a
non-empty FailureReason, callers must check both.
The transport owns the transfer deadline carried by ctx: when it gives up it must not leave the file registered
*/
type Transfer interface {
	Put(ctx context.Context, localPath string, lfn string, se string, force bool) (*PutResult, error)
	Replicate(ctx context.Context, lfn string, se string) error
	RemoveReplica(lfn string, se string) error
}
