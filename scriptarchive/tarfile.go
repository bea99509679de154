package scriptarchive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"github.com/google/uuid"
	"github.com/guardian/sandboxprep/common/models"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//archive/tar terminates an archive with two zero blocks
const tarTrailerSize = 1024

type tarEntry struct {
	name    string
	content []byte
	mode    int64
}

func createEmptyTar(path string) error {
	f, createErr := os.Create(path)
	if createErr != nil {
		return createErr
	}
	w := tar.NewWriter(f)
	closeErr := w.Close()
	if closeErr != nil {
		f.Close()
		return closeErr
	}
	return f.Close()
}

/**
append the given entries to an uncompressed tar previously written by archive/tar, by overwriting its trailer
*/
func appendToTar(path string, entries ...tarEntry) error {
	f, openErr := os.OpenFile(path, os.O_RDWR, 0)
	if openErr != nil {
		return openErr
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return statErr
	}
	offset := info.Size() - tarTrailerSize
	if offset < 0 {
		offset = 0
	}
	_, seekErr := f.Seek(offset, io.SeekStart)
	if seekErr != nil {
		return seekErr
	}

	w := tar.NewWriter(f)
	for _, e := range entries {
		writeErr := writeTarEntry(w, e)
		if writeErr != nil {
			return writeErr
		}
	}
	return w.Close()
}

func appendFileToTar(path string, entryName string, fromFile string) error {
	content, readErr := ioutil.ReadFile(fromFile)
	if readErr != nil {
		return readErr
	}
	info, statErr := os.Stat(fromFile)
	if statErr != nil {
		return statErr
	}
	return appendToTar(path, tarEntry{name: entryName, content: content, mode: int64(info.Mode().Perm())})
}

/**
gzip the tar at `from` into `to`, then remove the uncompressed tar
*/
func gzipAndRemove(from string, to string) error {
	src, openErr := os.Open(from)
	if openErr != nil {
		return openErr
	}

	dest, createErr := os.Create(to)
	if createErr != nil {
		src.Close()
		return createErr
	}

	zw := gzip.NewWriter(dest)
	_, copyErr := io.Copy(zw, src)
	src.Close()
	if copyErr != nil {
		dest.Close()
		return copyErr
	}
	zipCloseErr := zw.Close()
	closeErr := dest.Close()
	if zipCloseErr != nil {
		return zipCloseErr
	}
	if closeErr != nil {
		return closeErr
	}
	return os.Remove(from)
}

/**
names of the entries in a tar or tar.gz, in archive order
*/
func ListEntries(path string) ([]string, error) {
	contents, readErr := ReadEntries(path)
	if readErr != nil {
		return nil, readErr
	}
	rtn := make([]string, len(contents))
	for i, c := range contents {
		rtn[i] = c.Name
	}
	return rtn, nil
}

type Entry struct {
	Name    string
	Content []byte
}

func ReadEntries(path string) ([]Entry, error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, openErr
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, zipErr := gzip.NewReader(f)
		if zipErr != nil {
			return nil, zipErr
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	rtn := make([]Entry, 0)
	for {
		hdr, nextErr := tr.Next()
		if nextErr == io.EOF {
			break
		}
		if nextErr != nil {
			return nil, nextErr
		}
		content, readErr := ioutil.ReadAll(tr)
		if readErr != nil {
			return nil, readErr
		}
		rtn = append(rtn, Entry{Name: hdr.Name, Content: content})
	}
	return rtn, nil
}

/**
timestamp plus random id, so that two archives of otherwise identical content never hash the same
*/
func markerContent() []byte {
	return []byte(fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339Nano), uuid.New().String()))
}

/**
write a gzipped tar at destPath holding a uniqueness marker followed by each of the given files under its base name
*/
func PackFiles(destPath string, files []string) error {
	f, createErr := os.Create(destPath)
	if createErr != nil {
		return createErr
	}
	zw := gzip.NewWriter(f)
	w := tar.NewWriter(zw)

	writeErr := writeTarEntry(w, tarEntry{name: models.ARCHIVE_MARKER_ENTRY, content: markerContent(), mode: 0644})
	for _, name := range files {
		if writeErr != nil {
			break
		}
		content, readErr := ioutil.ReadFile(name)
		if readErr != nil {
			writeErr = readErr
			break
		}
		info, statErr := os.Stat(name)
		if statErr != nil {
			writeErr = statErr
			break
		}
		writeErr = writeTarEntry(w, tarEntry{name: filepath.Base(name), content: content, mode: int64(info.Mode().Perm())})
	}

	if writeErr == nil {
		writeErr = w.Close()
	}
	if writeErr == nil {
		writeErr = zw.Close()
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(destPath)
		return writeErr
	}
	return closeErr
}

func writeTarEntry(w *tar.Writer, e tarEntry) error {
	hdrErr := w.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.name,
		Mode:     e.mode,
		Size:     int64(len(e.content)),
		ModTime:  time.Now(),
	})
	if hdrErr != nil {
		return hdrErr
	}
	_, writeErr := w.Write(e.content)
	return writeErr
}
