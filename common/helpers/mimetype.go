package helpers

import (
	"fmt"
	"github.com/h2non/filetype"
	"log"
)

type ArchiveKind string

const (
	ARCHIVE_GZIP    ArchiveKind = "gz"
	ARCHIVE_TAR     ArchiveKind = "tar"
	ARCHIVE_UNKNOWN ArchiveKind = ""
)

/**
sniff the content of the given file to work out what sort of archive (if any) it is.
we don't trust the file extension because the build tool happily writes an empty or truncated .tgz on some failures
*/
func ArchiveKindForFile(filepath string) (ArchiveKind, error) {
	kind, matchErr := filetype.MatchFile(filepath)
	if matchErr != nil {
		log.Printf("Could not determine type for %s: %s", filepath, matchErr)
		return ARCHIVE_UNKNOWN, matchErr
	}

	switch kind.Extension {
	case "gz":
		return ARCHIVE_GZIP, nil
	case "tar":
		return ARCHIVE_TAR, nil
	default:
		return ARCHIVE_UNKNOWN, nil
	}
}

/**
returns nil if the given file really contains gzip data, or a descriptive error otherwise
*/
func AssertGzipFile(filepath string) error {
	kind, err := ArchiveKindForFile(filepath)
	if err != nil {
		return err
	}
	if kind != ARCHIVE_GZIP {
		return fmt.Errorf("%s does not contain gzip data", filepath)
	}
	return nil
}
