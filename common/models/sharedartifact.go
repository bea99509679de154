package models

import "path/filepath"

/**
handle on a prepared, uniquely-named directory holding the build output and copied option files
*/
type SharedArtifact struct {
	Name            string   `json:"name"`
	Path            string   `json:"path"`
	AssociatedFiles []string `json:"associated_files"` //logical names uploaded on behalf of this artifact
}

func (s *SharedArtifact) FilePath(name string) string {
	return filepath.Join(s.Path, name)
}

func (s *SharedArtifact) AddAssociatedFile(lfn string) {
	for _, existing := range s.AssociatedFiles {
		if existing == lfn {
			return
		}
	}
	s.AssociatedFiles = append(s.AssociatedFiles, lfn)
}
