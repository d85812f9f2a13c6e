package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Read parses the main section of a MANIFEST.MF file. Continuation lines
// start with a single space; the main section ends at the first blank line.
func Read(r io.Reader) (Headers, error) {
	headers := Headers{}
	scanner := bufio.NewScanner(r)
	var (
		name   string
		value  strings.Builder
		lineNo int
	)
	flush := func() {
		if name != "" {
			headers[name] = value.String()
		}
		name = ""
		value.Reset()
	}
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") {
			if name == "" {
				return nil, fmt.Errorf("manifest: line %d: continuation without header", lineNo)
			}
			value.WriteString(line[1:])
			continue
		}
		flush()
		idx := strings.Index(line, ":")
		if idx <= 0 || !strings.HasPrefix(line[idx+1:], " ") {
			return nil, fmt.Errorf("manifest: line %d: invalid header %q", lineNo, line)
		}
		name = line[:idx]
		if headers.Has(name) {
			return nil, fmt.Errorf("manifest: line %d: duplicate header %q", lineNo, name)
		}
		value.WriteString(line[idx+2:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	flush()
	return headers, nil
}
