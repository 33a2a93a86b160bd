package docker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"
)

// ResultPrefix marks the converter's output line carrying the download link.
const ResultPrefix = "RESULT_URL="

var errNoResult = errors.New("no " + ResultPrefix + " line in container output")

// readResult demultiplexes a container log stream and returns the value of
// the last result line written to stdout. stderr is ignored.
func readResult(logs io.Reader) (string, error) {
	var stdout bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, io.Discard, logs); err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}

	var result string
	for line := range strings.Lines(stdout.String()) {
		if v, ok := resultValue(line); ok {
			result = v
		}
	}
	if result == "" {
		return "", errNoResult
	}
	return result, nil
}

func resultValue(line string) (string, bool) {
	v, ok := strings.CutPrefix(strings.TrimSpace(line), ResultPrefix)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
