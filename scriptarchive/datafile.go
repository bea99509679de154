package scriptarchive

import (
	"bytes"
	"fmt"
	"github.com/guardian/sandboxprep/common/models"
	"strings"
)

const CATALOG_FILE = "catalog.xml"

/**
generate the data descriptor (and, when the data is held on the storage fabric, a file catalog for it)
that tells the application which files to run over
*/
func GenerateDataFiles(job *models.Job) []*models.FileBuffer {
	if len(job.InputData) == 0 {
		return []*models.FileBuffer{
			models.NewFileBuffer(models.DATA_FILE_NAME, "#dummy_data_file\n"+dataOptions(nil)),
		}
	}

	opts := dataOptions(job.InputData)
	opts += "\nfrom Gaudi.Configuration import FileCatalog\nFileCatalog().Catalogs = [\"xmlcatalog_file:catalog.xml\"]\n"
	return []*models.FileBuffer{
		models.NewFileBuffer(CATALOG_FILE, catalogXML(job.InputData)),
		models.NewFileBuffer(models.DATA_FILE_NAME, opts),
	}
}

func dataOptions(lfns []string) string {
	var buf bytes.Buffer
	buf.WriteString("\nfrom GaudiConf import IOHelper\nIOHelper('ROOT').inputFiles([")
	for _, lfn := range lfns {
		fmt.Fprintf(&buf, "\n'%s',", withLFNPrefix(lfn))
	}
	buf.WriteString("\n], clear=True)\n")
	return buf.String()
}

func catalogXML(lfns []string) string {
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\" standalone=\"no\" ?>\n")
	buf.WriteString("<!DOCTYPE POOLFILECATALOG SYSTEM \"InMemory\">\n<POOLFILECATALOG>\n")
	for _, lfn := range lfns {
		fmt.Fprintf(&buf, "  <File>\n    <logical>\n      <lfn name=\"%s\"/>\n    </logical>\n  </File>\n", strings.TrimPrefix(lfn, "LFN:"))
	}
	buf.WriteString("</POOLFILECATALOG>\n")
	return buf.String()
}

func withLFNPrefix(lfn string) string {
	if strings.HasPrefix(lfn, "LFN:") {
		return lfn
	}
	return "LFN:" + lfn
}
