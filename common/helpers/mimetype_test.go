package helpers

import (
	"compress/gzip"
	"io/ioutil"
	"os"
	"testing"
)

func TestArchiveKindForFile(t *testing.T) {
	gzFile, _ := ioutil.TempFile("", "kind*.tgz")
	w := gzip.NewWriter(gzFile)
	w.Write([]byte("some content to compress"))
	w.Close()
	gzFile.Close()
	defer os.Remove(gzFile.Name())

	kind, err := ArchiveKindForFile(gzFile.Name())
	if err != nil {
		t.Fatal("ArchiveKindForFile failed unexpectedly: ", err)
	}
	if kind != ARCHIVE_GZIP {
		t.Errorf("expected gzip, got '%s'", kind)
	}
	if assertErr := AssertGzipFile(gzFile.Name()); assertErr != nil {
		t.Errorf("AssertGzipFile rejected real gzip data: %s", assertErr)
	}

	//a .tgz that is really just text, as the build leaves behind on some failures
	fakeFile, _ := ioutil.TempFile("", "fake*.tgz")
	fakeFile.WriteString("make: *** [ganga-input-sandbox] Error 1\n")
	fakeFile.Close()
	defer os.Remove(fakeFile.Name())

	fakeKind, _ := ArchiveKindForFile(fakeFile.Name())
	if fakeKind != ARCHIVE_UNKNOWN {
		t.Errorf("text file was identified as '%s'", fakeKind)
	}
	if AssertGzipFile(fakeFile.Name()) == nil {
		t.Error("AssertGzipFile accepted a file with no gzip data")
	}

	if AssertGzipFile("/path/that/does/not/exist.tgz") == nil {
		t.Error("AssertGzipFile accepted a missing file")
	}
}
