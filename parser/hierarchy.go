package parser

import (
	"strconv"
	"strings"

	"github.com/aluiziolira/go-rescue-extract/models"
)

const (
	hierarchyFormat = "hierarchy"
	technicianType  = "Technician"
)

// Hierarchy parses getHierarchy output: blank-line separated blocks, the first
// being the status, each following block a node of `key:value` lines. Only
// technician nodes are returned, as typed values and as their full records.
func (p *Parser) Hierarchy(body string) ([]models.Technician, []models.Record, error) {
	status, payload, err := SplitStatus(body)
	if err != nil {
		return nil, nil, err
	}
	if status != StatusOK {
		return nil, nil, parseErr(hierarchyFormat, "status %q", status)
	}

	var (
		technicians []models.Technician
		records     []models.Record
	)
	for n, block := range strings.Split(payload, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}

		record := make(models.Record)
		for _, line := range strings.Split(block, "\n") {
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				return nil, nil, parseErr(hierarchyFormat, "node %d: line %q is not key:value", n, line)
			}
			record[p.key(k)] = v
		}
		if record["type"] != technicianType {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(record["nodeid"]))
		if err != nil {
			return nil, nil, parseErr(hierarchyFormat, "node %d: nodeid %q: %v", n, record["nodeid"], err)
		}
		technicians = append(technicians, models.Technician{
			NodeID: id,
			Name:   record["name"],
			Type:   record["type"],
			Fields: record,
		})
		records = append(records, record)
	}
	return technicians, records, nil
}
