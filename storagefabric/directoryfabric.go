package storagefabric

import (
	"context"
	"errors"
	"fmt"
	"github.com/guardian/sandboxprep/common/models"
	"github.com/guardian/sandboxprep/uploader"
	"io"
	"log"
	"os"
	"path/filepath"
)

/**
a storage fabric made of plain directories, one per storage element, under a common root.
good enough for local development and for the batch backend on a shared filesystem
*/
type DirectoryFabric struct {
	root    string
	catalog *RedisCatalog
}

func NewDirectoryFabric(root string, catalog *RedisCatalog) *DirectoryFabric {
	return &DirectoryFabric{root: root, catalog: catalog}
}

/**
create the directory for a storage element and mark it writable
*/
func (f *DirectoryFabric) Register(se string) error {
	mkdirErr := os.MkdirAll(filepath.Join(f.root, se), 0755)
	if mkdirErr != nil {
		return mkdirErr
	}
	return f.catalog.SetWritable(se, true)
}

func (f *DirectoryFabric) physicalPath(lfn string, se string) string {
	return filepath.Join(f.root, se, filepath.FromSlash(lfn))
}

func (f *DirectoryFabric) Put(ctx context.Context, localPath string, lfn string, se string, force bool) (*uploader.PutResult, error) {
	if _, statErr := os.Stat(filepath.Join(f.root, se)); statErr != nil {
		return nil, fmt.Errorf("storage element %s is not available: %s", se, statErr)
	}
	dest := f.physicalPath(lfn, se)
	if _, existsErr := os.Stat(dest); existsErr == nil && !force {
		return &uploader.PutResult{FailureReason: fmt.Sprintf("%s already exists at %s", lfn, se)}, nil
	}

	copyErr := copyFile(ctx, localPath, dest)
	if copyErr != nil {
		os.Remove(dest)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("put of %s to %s abandoned: %w", lfn, se, ctx.Err())
		}
		return &uploader.PutResult{FailureReason: copyErr.Error()}, nil
	}
	regErr := f.catalog.AddReplica(lfn, se)
	if regErr != nil {
		os.Remove(dest)
		return nil, regErr
	}
	return &uploader.PutResult{Locations: []string{se}}, nil
}

func (f *DirectoryFabric) Replicate(ctx context.Context, lfn string, se string) error {
	source, findErr := f.existingReplica(lfn)
	if findErr != nil {
		return findErr
	}
	if _, statErr := os.Stat(filepath.Join(f.root, se)); statErr != nil {
		return fmt.Errorf("storage element %s is not available: %s", se, statErr)
	}
	dest := f.physicalPath(lfn, se)
	copyErr := copyFile(ctx, source, dest)
	if copyErr != nil {
		os.Remove(dest)
		return copyErr
	}
	return f.catalog.AddReplica(lfn, se)
}

func (f *DirectoryFabric) RemoveReplica(lfn string, se string) error {
	rmErr := os.Remove(f.physicalPath(lfn, se))
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	return f.catalog.RemoveReplica(lfn, se)
}

/**
copy the first reachable replica of the file into destDir
*/
func (f *DirectoryFabric) Fetch(ctx context.Context, src *models.RemoteSource, destDir string) (string, error) {
	source, findErr := f.existingReplica(src.LFN)
	if findErr != nil {
		return "", findErr
	}
	dest := filepath.Join(destDir, src.BaseName())
	copyErr := copyFile(ctx, source, dest)
	if copyErr != nil {
		log.Printf("ERROR: Could not fetch %s to %s: %s", src.LFN, dest, copyErr)
		return "", copyErr
	}
	return dest, nil
}

func (f *DirectoryFabric) existingReplica(lfn string) (string, error) {
	replicas, listErr := f.catalog.ListReplicas(lfn)
	if listErr != nil {
		return "", listErr
	}
	for _, se := range replicas {
		candidate := f.physicalPath(lfn, se)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
		log.Printf("WARNING: Catalog lists %s at %s but it is not there", lfn, se)
	}
	return "", &models.MissingReplicaError{LFN: lfn, Role: "file"}
}

/**
io.Reader that stops once its context is done
*/
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyFile(ctx context.Context, from string, to string) error {
	mkdirErr := os.MkdirAll(filepath.Dir(to), 0755)
	if mkdirErr != nil {
		return mkdirErr
	}
	src, openErr := os.Open(from)
	if openErr != nil {
		return openErr
	}
	defer src.Close()

	dest, createErr := os.Create(to)
	if createErr != nil {
		return createErr
	}
	_, copyErr := io.Copy(dest, contextReader{ctx: ctx, r: src})
	closeErr := dest.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return errors.New("could not finish writing " + to + ": " + closeErr.Error())
	}
	return nil
}
