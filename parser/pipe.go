package parser

import (
	"strings"

	"github.com/aluiziolira/go-rescue-extract/models"
)

const (
	delimiter  = "|"
	rowMarker  = "|"
	pipeFormat = "pipe"
)

// Pipe parses the text report format: status, blank line, a `|`-joined header
// line, then rows. The API does not escape `|` inside free text (chat
// transcripts), so fields beyond the header count are appended to the last
// declared column, joined by `|`. Two embedded delimiters therefore only ever
// corrupt the last column.
func (p *Parser) Pipe(body string) (*Table, error) {
	_, payload, err := SplitStatus(body)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(payload, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) {
		return nil, parseErr(pipeFormat, "missing header line")
	}

	headerLine := lines[start]
	terminated := strings.HasSuffix(headerLine, delimiter)
	if terminated {
		headerLine = strings.TrimSuffix(headerLine, delimiter)
	}
	if strings.TrimSpace(headerLine) == "" {
		return nil, parseErr(pipeFormat, "empty header line")
	}

	rawHeader := strings.Split(headerLine, delimiter)
	header := make([]string, len(rawHeader))
	for i, name := range rawHeader {
		header[i] = p.key(name)
	}

	table := &Table{Header: header}
	for _, record := range splitRecords(lines[start+1:]) {
		if terminated {
			record = strings.TrimSuffix(record, delimiter)
		}
		table.Rows = append(table.Rows, buildRow(header, record))
	}
	return table, nil
}

// splitRecords groups payload lines into rows. When the body marks row ends
// with a line holding only `|`, those markers are the only boundaries and
// rows may span several lines. Otherwise a row starts at a line beginning with
// a decimal id followed by `|`, and any other line continues the previous row.
func splitRecords(lines []string) []string {
	markers := false
	for _, line := range lines {
		if line == rowMarker {
			markers = true
			break
		}
	}

	var (
		records []string
		current strings.Builder
		open    bool
	)
	flush := func() {
		if open {
			record := strings.TrimRight(current.String(), "\n")
			if strings.TrimSpace(record) != "" {
				records = append(records, record)
			}
		}
		current.Reset()
		open = false
	}

	for _, line := range lines {
		switch {
		case markers && line == rowMarker:
			flush()
		case markers:
			if open {
				current.WriteByte('\n')
			}
			current.WriteString(line)
			open = true
		case startsRow(line) || (!open && line != ""):
			flush()
			current.WriteString(line)
			open = true
		case open:
			current.WriteByte('\n')
			current.WriteString(line)
		}
	}
	flush()
	return records
}

// startsRow reports whether line opens with a numeric id and the delimiter.
func startsRow(line string) bool {
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	return digits > 0 && strings.HasPrefix(line[digits:], delimiter)
}

func buildRow(header []string, record string) models.Record {
	fields := strings.Split(record, delimiter)
	row := make(models.Record, len(header))
	for i, name := range header {
		if i < len(fields) {
			row[name] = fields[i]
		} else {
			row[name] = ""
		}
	}
	if len(fields) > len(header) {
		last := header[len(header)-1]
		row[last] = strings.Join(append([]string{row[last]}, fields[len(header):]...), delimiter)
	}
	return row
}
