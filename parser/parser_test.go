package parser

import (
	"reflect"
	"testing"

	"github.com/aluiziolira/go-rescue-extract/models"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "spaces", input: "Session ID", expected: "session_id"},
		{name: "slash", input: "Start Date/Time", expected: "start_date_time"},
		{name: "dash artifact", input: "Waiting Time â€“ Seconds", expected: "waiting_time__seconds"},
		{name: "tab and newline", input: "Tech\tName\n", expected: "tech_name_"},
		{name: "already normal", input: "nodeid", expected: "nodeid"},
		{name: "nested artifact", input: "aââ€“€“b", expected: "ab"},
		{name: "upper artifact", input: "XÂ€“Y", expected: "xy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.input); got != tt.expected {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeKeyIdempotent(t *testing.T) {
	inputs := []string{
		"Session ID", "A/B C", "â€“", "ââ€“€“", "Â€“", "İstanbul Office", "  ", "", "Chat Log|Raw",
	}
	for _, in := range inputs {
		once := NormalizeKey(in)
		if twice := NormalizeKey(once); twice != once {
			t.Errorf("NormalizeKey not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeKeyCollapsesCaseAndArtifact(t *testing.T) {
	if NormalizeKey("Session ID") != NormalizeKey("session id") {
		t.Fatalf("case variants must collapse")
	}
	if NormalizeKey("Talk â€“Time") != NormalizeKey("Talk Time") {
		t.Fatalf("artifact variants must collapse")
	}
}

func TestNormalizerCaches(t *testing.T) {
	n, err := NewNormalizer(8)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	if got := n.Normalize("Session ID"); got != "session_id" {
		t.Fatalf("Normalize = %q", got)
	}
	n.Normalize("Session ID")
	if n.Len() != 1 {
		t.Fatalf("cache len = %d, want 1", n.Len())
	}

	var nilNormalizer *Normalizer
	if got := nilNormalizer.Normalize("A B"); got != "a_b" {
		t.Fatalf("nil normalizer = %q", got)
	}
}

func TestSplitStatus(t *testing.T) {
	status, rest, err := SplitStatus("OK\r\n\r\nbody\nmore")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if status != "OK" || rest != "body\nmore" {
		t.Fatalf("status=%q rest=%q", status, rest)
	}

	if _, _, err := SplitStatus("OK\nbody"); !IsParseError(err) {
		t.Fatalf("missing blank line should be a parse error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	if got := Status("OK"); got != "OK" {
		t.Fatalf("Status(OK) = %q", got)
	}
	if got := Status("ERROR\n\ndetails"); got != "ERROR" {
		t.Fatalf("Status = %q", got)
	}
}

func TestPipe(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		header   []string
		expected []models.Record
	}{
		{
			name:     "leaked delimiter joins onto last column",
			body:     "OK\n\nA|B\n1|hello|world\n",
			header:   []string{"a", "b"},
			expected: []models.Record{{"a": "1", "b": "hello|world"}},
		},
		{
			name:   "two leaked delimiters only touch the last column",
			body:   "OK\n\nSession ID|Technician|Chat Log\n10|Ann|a|b|c\n11|Bob|plain\n",
			header: []string{"session_id", "technician", "chat_log"},
			expected: []models.Record{
				{"session_id": "10", "technician": "Ann", "chat_log": "a|b|c"},
				{"session_id": "11", "technician": "Bob", "chat_log": "plain"},
			},
		},
		{
			name:   "continuation lines stay in the row",
			body:   "OK\n\nSession ID|Chat Log\n10|first line\nsecond | line\n11|next\n",
			header: []string{"session_id", "chat_log"},
			expected: []models.Record{
				{"session_id": "10", "chat_log": "first line\nsecond | line"},
				{"session_id": "11", "chat_log": "next"},
			},
		},
		{
			name:   "marker terminated rows",
			body:   "OK\n\nSession ID|Chat Log|\n|\n10|hi\n5|not a row|\n|\n11|bye|\n|\n",
			header: []string{"session_id", "chat_log"},
			expected: []models.Record{
				{"session_id": "10", "chat_log": "hi\n5|not a row"},
				{"session_id": "11", "chat_log": "bye"},
			},
		},
		{
			name:     "short row is padded",
			body:     "OK\n\nA|B|C\n1|x\n",
			header:   []string{"a", "b", "c"},
			expected: []models.Record{{"a": "1", "b": "x", "c": ""}},
		},
		{
			name:   "header only",
			body:   "OK\n\nA|B\n",
			header: []string{"a", "b"},
		},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := p.Pipe(tt.body)
			if err != nil {
				t.Fatalf("Pipe: %v", err)
			}
			if !reflect.DeepEqual(table.Header, tt.header) {
				t.Fatalf("header=%v, want %v", table.Header, tt.header)
			}
			if !reflect.DeepEqual(table.Rows, tt.expected) {
				t.Fatalf("rows=%#v, want %#v", table.Rows, tt.expected)
			}
		})
	}
}

func TestPipeErrors(t *testing.T) {
	p := New(nil)
	for _, body := range []string{"A|B\n1|2", "OK\n\n", "OK\n\n\n\n"} {
		if _, err := p.Pipe(body); !IsParseError(err) {
			t.Errorf("Pipe(%q) error = %v, want parse error", body, err)
		}
	}
}

func TestXMLHeaderIndirection(t *testing.T) {
	body := "OK\n\n<report><header><field id=\"1\">Session Id</field><field id=\"2\">Time</field></header>" +
		"<data><row><field id=\"2\">10:00</field><field id=\"1\">abc</field></row></data></report>"

	table, err := New(nil).XML(body)
	if err != nil {
		t.Fatalf("XML: %v", err)
	}
	if !reflect.DeepEqual(table.Header, []string{"session_id", "time"}) {
		t.Fatalf("header=%v", table.Header)
	}
	want := []models.Record{{"session_id": "abc", "time": "10:00"}}
	if !reflect.DeepEqual(table.Rows, want) {
		t.Fatalf("rows=%v, want %v", table.Rows, want)
	}
}

func TestXMLFillsAbsentFields(t *testing.T) {
	body := "OK\n\n<report><header><field id=\"7\">A</field><field id=\"3\">B</field></header>" +
		"<data><row><field id=\"3\">b1</field></row><row><field id=\"7\">a2</field><field id=\"3\">b|2</field></row></data></report>"

	table, err := New(nil).XML(body)
	if err != nil {
		t.Fatalf("XML: %v", err)
	}
	want := []models.Record{{"a": "", "b": "b1"}, {"a": "a2", "b": "b|2"}}
	if !reflect.DeepEqual(table.Rows, want) {
		t.Fatalf("rows=%v, want %v", table.Rows, want)
	}
}

func TestXMLErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no preamble", body: "<report><header/></report>"},
		{name: "not xml", body: "OK\n\nthis is not xml"},
		{name: "unknown field id", body: "OK\n\n<report><header><field id=\"1\">A</field></header><data><row><field id=\"9\">x</field></row></data></report>"},
		{name: "header field without id", body: "OK\n\n<report><header><field>A</field></header><data/></report>"},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.XML(tt.body); !IsParseError(err) {
				t.Fatalf("XML error = %v, want parse error", err)
			}
		})
	}
}

func TestHierarchy(t *testing.T) {
	body := "OK\n\n" +
		"NodeID:5\nName:Ann\nType:Technician\nEmail:ann@example.test\n\n" +
		"NodeID:2\nName:Support\nType:Group\n\n" +
		"NodeID:9\nName:Bob\nType:Technician\nDescription:on call: nights\n\n"

	technicians, records, err := New(nil).Hierarchy(body)
	if err != nil {
		t.Fatalf("Hierarchy: %v", err)
	}
	if len(technicians) != 2 || len(records) != 2 {
		t.Fatalf("technicians=%d records=%d, want 2/2", len(technicians), len(records))
	}
	if technicians[0].NodeID != 5 || technicians[1].NodeID != 9 {
		t.Fatalf("ids=%d,%d", technicians[0].NodeID, technicians[1].NodeID)
	}
	if technicians[0].Name != "Ann" || records[0]["email"] != "ann@example.test" {
		t.Fatalf("unexpected first technician %+v", technicians[0])
	}
	if records[1]["description"] != "on call: nights" {
		t.Fatalf("value with colon split wrongly: %q", records[1]["description"])
	}
}

func TestHierarchyErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no preamble", body: "NodeID:5"},
		{name: "bad status", body: "INVALID\n\nNodeID:5\nType:Technician\n"},
		{name: "line without colon", body: "OK\n\nNodeID:5\ngarbage\nType:Technician\n"},
		{name: "non numeric technician id", body: "OK\n\nNodeID:x\nType:Technician\n"},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := p.Hierarchy(tt.body); !IsParseError(err) {
				t.Fatalf("Hierarchy error = %v, want parse error", err)
			}
		})
	}
}
