package parser

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/aluiziolira/go-rescue-extract/models"
)

const xmlFormat = "xml"

// XML parses the XML report format. Field names are not positional: every
// row field carries an id that must be looked up in the <header> table.
func (p *Parser) XML(body string) (*Table, error) {
	_, payload, err := SplitStatus(body)
	if err != nil {
		return nil, err
	}

	doc, err := xmlquery.Parse(strings.NewReader(payload))
	if err != nil {
		return nil, ErrParse{Format: xmlFormat, Err: err}
	}

	headerNode := xmlquery.FindOne(doc, "//header")
	if headerNode == nil {
		return nil, parseErr(xmlFormat, "missing <header> element")
	}

	names := make(map[string]string)
	table := &Table{}
	for _, field := range xmlquery.Find(headerNode, "field") {
		id := field.SelectAttr("id")
		if id == "" {
			return nil, parseErr(xmlFormat, "header field without id")
		}
		name := p.key(field.InnerText())
		names[id] = name
		table.Header = append(table.Header, name)
	}

	for i, rowNode := range xmlquery.Find(doc, "//data/row") {
		row := make(models.Record, len(table.Header))
		for _, name := range table.Header {
			row[name] = ""
		}
		for _, field := range xmlquery.Find(rowNode, "field") {
			id := field.SelectAttr("id")
			name, ok := names[id]
			if !ok {
				return nil, parseErr(xmlFormat, "row %d: field id %q has no header entry", i, id)
			}
			row[name] = field.InnerText()
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
