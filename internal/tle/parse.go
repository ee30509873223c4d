package tle

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// Parse reads three-line element sets (name, line 1, line 2) from r. Entries
// whose lines do not start with "1 " and "2 " are skipped with a warning.
// Records are returned unvalidated.
func Parse(r io.Reader, log logging.Logger) ([]model.TLERecord, error) {
	if log == nil {
		log = logging.Noop()
	}
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read elements: %w", err)
	}

	var out []model.TLERecord
	for i := 0; i+2 < len(lines); {
		name, l1, l2 := lines[i], lines[i+1], lines[i+2]
		if !strings.HasPrefix(l1, "1 ") || !strings.HasPrefix(l2, "2 ") {
			log.Warn(context.Background(), "skipping malformed element entry",
				logging.Int("line_index", i), logging.String("name", name))
			i++
			continue
		}
		out = append(out, model.TLERecord{
			Name:  strings.TrimSpace(strings.TrimPrefix(name, "0 ")),
			Line1: l1,
			Line2: l2,
		})
		i += 3
	}
	return out, nil
}

// ParseFile is Parse on the named file.
func ParseFile(path string, log logging.Logger) ([]model.TLERecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elements file: %w", err)
	}
	defer f.Close()
	return Parse(f, log)
}
