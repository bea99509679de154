package models

import "path/filepath"

const ARCHIVE_MARKER_ENTRY = "__timestamp__"

/**
the per-master-job tar archive of generated worker-node scripts.
entries are kept in insertion order. Once Finalized is set the archive at Path is gzip-compressed and must not be
appended to again; Remote is populated once it has been uploaded
*/
type JobScriptArchive struct {
	Identifier string      `json:"identifier"`
	Path       string      `json:"path"`
	Entries    []string    `json:"entries"`
	Finalized  bool        `json:"finalized"`
	Remote     *RemoteFile `json:"remote"`
}

func (a *JobScriptArchive) BaseName() string {
	return filepath.Base(a.Path)
}

/**
true if the archive has been uploaded and the storage fabric knows at least one replica
*/
func (a *JobScriptArchive) IsUploaded() bool {
	return a.Remote != nil && a.Remote.HasReplica()
}
