package scriptarchive

import (
	"bytes"
	"strconv"
	"text/template"
)

var workerScriptTemplate = template.Must(template.New("workerScript").Parse(`#!/bin/sh
# worker node script for job {{.FQID}}
PREPARED_REF="$1"
ARCHIVE_REF="$2"

stage() {
  case "$1" in
    LFN:*) ;;
    "") ;;
    *)
      if [ -d "$1" ]; then
        cp -r "$1"/. .
      elif [ -f "$1" ]; then
        cp "$1" .
      fi
      ;;
  esac
}

stage "$PREPARED_REF"
stage "$ARCHIVE_REF"

echo "Arrived at workernode: $(pwd)"
for f in *.tgz *.tar.gz; do
  if [ -f "$f" ]; then
    echo "Extracting: $f"
    tar -zxf "$f"
  fi
done

{{.Bootstrap}}
{{.Command}}
rc=$?
{{range .OutputPatterns}}
for f in {{.}}; do
  if [ -e "$f" ]; then
    echo "$f" >> __postprocesslocations__
  fi
done
{{- end}}

exit $rc
`))

/**
python string literals are written with Go quoting, which python reads back the same for anything printable
*/
var wrapperFuncs = template.FuncMap{"pystr": strconv.Quote}

var wrapperTemplate = template.Must(template.New("optsWrapper").Funcs(wrapperFuncs).Parse(`#!/usr/bin/env python
'''wrapper to run the options for job {{.FQID}} through GaudiPython'''
import sys
from Gaudi.Configuration import importOptions
from GaudiPython import AppMgr

sys.argv += [{{range .ExtraArgs}}{{pystr .}}, {{end}}]
{{range .Options}}importOptions({{pystr .}})
{{end}}{{if .ExtraOpts}}importOptions({{pystr .ExtraOpts}})
{{end}}{{if .DataFile}}importOptions({{pystr .DataFile}})
{{end}}{{range .Extras}}importOptions({{pystr .}})
{{end}}
gaudi = AppMgr()
gaudi.run(-1)
gaudi.exit()
`))

const summaryOptions = `
from Gaudi.Configuration import *
from Configurables import LHCbApp
LHCbApp().XMLSummary='summary.xml'`

var dbTagsTemplate = template.Must(template.New("dbTags").Parse(`from Configurables import {{.Prefix}}
{{.Prefix}}().DDDBtag = '{{.DDDB}}'
{{.Prefix}}().CondDBtag = '{{.CondDB}}'`))

type workerScriptParams struct {
	FQID           string
	Bootstrap      string
	Command        string
	OutputPatterns []string
}

type wrapperParams struct {
	FQID      string
	Options   []string
	ExtraOpts string
	DataFile  string
	ExtraArgs []string
	Extras    []string
}

type dbTagsParams struct {
	Prefix string
	DDDB   string
	CondDB string
}

func render(tmpl *template.Template, params interface{}) ([]byte, error) {
	var buf bytes.Buffer
	execErr := tmpl.Execute(&buf, params)
	if execErr != nil {
		return nil, execErr
	}
	return buf.Bytes(), nil
}
