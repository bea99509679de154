package sharedstore

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/guardian/sandboxprep/common/models"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
)

/**
owns the uniquely-named shared directories that prepared applications are staged into.
the layout is <root>/shared/<user>/conf-<uuid>
*/
type Store struct {
	root    string
	user    string
	counter models.ShareCounter
}

func NewStore(root string, user string, counter models.ShareCounter) *Store {
	if counter == nil {
		counter = models.NewMemoryShareCounter()
	}
	return &Store{root: root, user: user, counter: counter}
}

func (s *Store) BaseDir() string {
	return filepath.Join(s.root, "shared", s.user)
}

/**
create a new, empty shared directory with a share count of one
*/
func (s *Store) Allocate() (*models.SharedArtifact, error) {
	name := "conf-" + uuid.New().String()
	dirPath := filepath.Join(s.BaseDir(), name)

	mkdirErr := os.MkdirAll(dirPath, 0755)
	if mkdirErr != nil {
		log.Printf("ERROR: Could not create shared directory %s: %s", dirPath, mkdirErr)
		return nil, mkdirErr
	}

	_, countErr := s.counter.Increase(name)
	if countErr != nil {
		log.Printf("ERROR: Could not register share count for %s: %s", name, countErr)
		os.RemoveAll(dirPath)
		return nil, countErr
	}
	log.Printf("DEBUG: Allocated shared directory %s", dirPath)
	return &models.SharedArtifact{Name: name, Path: dirPath}, nil
}

/**
handle on an existing shared directory by name
*/
func (s *Store) Ref(name string) *models.SharedArtifact {
	return &models.SharedArtifact{Name: name, Path: filepath.Join(s.BaseDir(), name)}
}

func (s *Store) Path(ref *models.SharedArtifact) string {
	return filepath.Join(s.BaseDir(), ref.Name)
}

func (s *Store) Exists(ref *models.SharedArtifact) bool {
	if ref == nil {
		return false
	}
	info, statErr := os.Stat(s.Path(ref))
	return statErr == nil && info.IsDir()
}

/**
copy the file at srcPath into the top level of the shared directory, keeping its base name.
returns the path of the copy
*/
func (s *Store) CopyInto(ref *models.SharedArtifact, srcPath string) (string, error) {
	if !s.Exists(ref) {
		return "", fmt.Errorf("shared directory %s does not exist", s.Path(ref))
	}
	destPath := filepath.Join(s.Path(ref), filepath.Base(srcPath))
	copyErr := copyFile(srcPath, destPath)
	if copyErr != nil {
		log.Printf("ERROR: Could not copy %s into %s: %s", srcPath, s.Path(ref), copyErr)
		return "", copyErr
	}
	return destPath, nil
}

/**
write an in-memory buffer into the shared directory
*/
func (s *Store) WriteInto(ref *models.SharedArtifact, buf *models.FileBuffer) (string, error) {
	if !s.Exists(ref) {
		return "", fmt.Errorf("shared directory %s does not exist", s.Path(ref))
	}
	destPath := filepath.Join(s.Path(ref), buf.RelativePath())
	return destPath, buf.Create(destPath)
}

/**
sorted list of the regular files in the shared directory, as full paths
*/
func (s *Store) ListFiles(ref *models.SharedArtifact) ([]string, error) {
	entries, readErr := ioutil.ReadDir(s.Path(ref))
	if readErr != nil {
		return nil, readErr
	}
	rtn := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			rtn = append(rtn, filepath.Join(s.Path(ref), e.Name()))
		}
	}
	sort.Strings(rtn)
	return rtn, nil
}

func (s *Store) Retain(ref *models.SharedArtifact) (int64, error) {
	if ref == nil {
		return 0, errors.New("can't retain a nil shared artifact")
	}
	return s.counter.Increase(ref.Name)
}

/**
drop one reference to the shared directory, removing it from disk when nothing refers to it any more
*/
func (s *Store) Release(ref *models.SharedArtifact) (int64, error) {
	if ref == nil {
		return 0, nil
	}
	remaining, decErr := s.counter.Decrease(ref.Name)
	if decErr != nil {
		log.Printf("ERROR: Could not decrease share count for %s: %s", ref.Name, decErr)
		return 0, decErr
	}
	if remaining <= 0 {
		log.Printf("DEBUG: Share count for %s reached zero, removing %s", ref.Name, s.Path(ref))
		rmErr := os.RemoveAll(s.Path(ref))
		if rmErr != nil {
			log.Printf("WARNING: Could not remove shared directory %s: %s", s.Path(ref), rmErr)
			return 0, rmErr
		}
	}
	return remaining, nil
}

/**
shared directories on disk whose share count is zero, i.e. left behind by a crashed or killed process
*/
func (s *Store) Orphans() ([]*models.SharedArtifact, error) {
	entries, readErr := ioutil.ReadDir(s.BaseDir())
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}
		return nil, readErr
	}
	rtn := make([]*models.SharedArtifact, 0)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		count, countErr := s.counter.Count(e.Name())
		if countErr != nil {
			return nil, countErr
		}
		if count <= 0 {
			rtn = append(rtn, s.Ref(e.Name()))
		}
	}
	return rtn, nil
}

func copyFile(from string, to string) error {
	src, openErr := os.Open(from)
	if openErr != nil {
		return openErr
	}
	defer src.Close()

	info, statErr := src.Stat()
	if statErr != nil {
		return statErr
	}

	dest, createErr := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if createErr != nil {
		return createErr
	}
	_, copyErr := io.Copy(dest, src)
	closeErr := dest.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
