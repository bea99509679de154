package models

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

/**
anything that can be shipped in a job sandbox. Implemented by LocalSource, RemoteSource and FileBuffer only.
*/
type SandboxEntry interface {
	SandboxName() string
	sandboxEntry()
}

/**
a file declared by the user, either as an option file or an input file. Implemented by LocalSource and RemoteSource only,
dispatch on it with a type switch.
*/
type FileSource interface {
	SandboxEntry
	BaseName() string
	fileSource()
}

/**
a file on a filesystem visible to the submitting host
*/
type LocalSource struct {
	Dir  string `json:"localDir"`
	Name string `json:"namePattern"`
}

func NewLocalSource(fullPath string) *LocalSource {
	absPath, absErr := filepath.Abs(fullPath)
	if absErr != nil {
		absPath = fullPath
	}
	return &LocalSource{
		Dir:  filepath.Dir(absPath),
		Name: filepath.Base(absPath),
	}
}

func (l *LocalSource) Path() string {
	return filepath.Join(l.Dir, l.Name)
}

func (l *LocalSource) Exists() bool {
	_, statErr := os.Stat(l.Path())
	return statErr == nil
}

func (l *LocalSource) BaseName() string    { return l.Name }
func (l *LocalSource) SandboxName() string { return l.Path() }
func (l *LocalSource) sandboxEntry()       {}
func (l *LocalSource) fileSource()         {}

/**
a file already held on the storage fabric, referenced by its logical name
*/
type RemoteSource struct {
	LFN       string   `json:"lfn"`
	Locations []string `json:"locations"`
}

func NewRemoteSource(lfn string) *RemoteSource {
	return &RemoteSource{LFN: strings.TrimPrefix(lfn, "LFN:")}
}

func (r *RemoteSource) BaseName() string    { return filepath.Base(r.LFN) }
func (r *RemoteSource) SandboxName() string { return "LFN:" + r.LFN }
func (r *RemoteSource) sandboxEntry()       {}
func (r *RemoteSource) fileSource()         {}

/**
generated content that only exists in memory until the backend writes it out
*/
type FileBuffer struct {
	Name       string
	Subdir     string
	Contents   []byte
	Executable bool
}

func NewFileBuffer(name string, contents string) *FileBuffer {
	return &FileBuffer{Name: name, Contents: []byte(contents)}
}

/**
path of the buffer relative to the sandbox root
*/
func (b *FileBuffer) RelativePath() string {
	if b.Subdir == "" {
		return b.Name
	}
	return filepath.Join(b.Subdir, b.Name)
}

func (b *FileBuffer) SandboxName() string { return b.RelativePath() }
func (b *FileBuffer) sandboxEntry()       {}

/**
write the buffer out to the given path, creating parent directories as needed
*/
func (b *FileBuffer) Create(toPath string) error {
	mkdirErr := os.MkdirAll(filepath.Dir(toPath), 0755)
	if mkdirErr != nil {
		return mkdirErr
	}
	var mode os.FileMode = 0644
	if b.Executable {
		mode = 0755
	}
	return ioutil.WriteFile(toPath, b.Contents, mode)
}
