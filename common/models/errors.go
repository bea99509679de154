package models

import (
	"fmt"
	"strings"
)

/**
missing or invalid directory, options, platform or similar user-supplied setting
*/
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

type AlreadyPreparedError struct {
	Directory string
}

func (e *AlreadyPreparedError) Error() string {
	return fmt.Sprintf("application at %s has already been prepared, use force to prepare it again", e.Directory)
}

/**
the build tool finished but the output we need is not where it should be
*/
type BuildArtifactMissingError struct {
	Path   string
	Reason string
}

func (e *BuildArtifactMissingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("build artifact %s is not usable: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("build artifact %s not found", e.Path)
}

/**
every candidate storage element was tried and none of them worked
*/
type TransferExhaustedError struct {
	Operation string
	File      string
	Tried     []string
}

func (e *TransferExhaustedError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("could not %s %s: no candidate storage elements available", e.Operation, e.File)
	}
	return fmt.Sprintf("could not %s %s to any storage element, tried %s", e.Operation, e.File, strings.Join(e.Tried, ", "))
}

type MissingReplicaError struct {
	LFN  string
	Role string
}

func (e *MissingReplicaError) Error() string {
	return fmt.Sprintf("%s with LFN %s has no replicas", e.Role, e.LFN)
}

type BackendUnsupportedFileTypeError struct {
	Backend string
	File    string
}

func (e *BackendUnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("file %s is of a type not supported by the %s backend", e.File, e.Backend)
}

type ArchiveFinalizedError struct {
	Path string
}

func (e *ArchiveFinalizedError) Error() string {
	return fmt.Sprintf("job script archive %s has already been finalized and can't be appended to", e.Path)
}

/**
a subjob tried to prepare before its master had finished (and, for remote backends, uploaded) its shared artifacts
*/
type MasterNotPreparedError struct {
	MasterFQID string
	Reason     string
}

func (e *MasterNotPreparedError) Error() string {
	return fmt.Sprintf("master job %s is not ready for subjob preparation: %s", e.MasterFQID, e.Reason)
}

/**
the build tool ran but exited non-zero
*/
type BuildFailedError struct {
	Command  string
	Dir      string
	ExitCode int
	Stderr   string
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("%s failed in %s with exit code %d: %s", e.Command, e.Dir, e.ExitCode, e.Stderr)
}

type ArchiveNotFinalizedError struct {
	Path string
}

func (e *ArchiveNotFinalizedError) Error() string {
	return fmt.Sprintf("job script archive %s is still being written and can't be uploaded yet", e.Path)
}
