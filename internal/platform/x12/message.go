// Package x12 encodes and decodes the ANSI X12 005010 transactions exchanged
// with the Medicaid payer: 270/271 eligibility, 276/277 claim status and
// 837P/835 claim submission and remittance.
package x12

import (
	"fmt"
	"strings"
)

// Default delimiters used when encoding.
const (
	ElementSeparator   = '*'
	ComponentSeparator = ':'
	SegmentTerminator  = '~'
	RepetitionSep      = '^'
)

// isaLength is the fixed length of an ISA segment including its terminator.
const isaLength = 106

// Segment is one delimited line of an interchange, e.g. NM1*IL*1*DOE*JOHN.
type Segment struct {
	ID       string
	Elements []string // Elements[0] is the first element after the segment ID
}

// NewSegment builds a segment, dropping trailing empty elements.
func NewSegment(id string, elements ...string) Segment {
	end := len(elements)
	for end > 0 && elements[end-1] == "" {
		end--
	}
	return Segment{ID: id, Elements: elements[:end]}
}

// Element returns the 1-based element value, or "" when absent.
func (s Segment) Element(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Elements) {
		return ""
	}
	return s.Elements[idx]
}

// Component returns the 1-based component of a composite element.
func (s Segment) Component(index, comp int, sep byte) string {
	parts := strings.Split(s.Element(index), string(sep))
	ci := comp - 1
	if ci < 0 || ci >= len(parts) {
		return ""
	}
	return parts[ci]
}

// String renders the segment without its terminator.
func (s Segment) String() string {
	if len(s.Elements) == 0 {
		return s.ID
	}
	return s.ID + string(ElementSeparator) + strings.Join(s.Elements, string(ElementSeparator))
}

// Interchange is an ISA..IEA envelope with its business segments.
type Interchange struct {
	SenderID           string
	ReceiverID         string
	ControlNumber      string
	GroupControlNumber string
	TransactionType    string // ST01, e.g. "270"
	ComponentSep       byte
	Segments           []Segment
}

// Strings returns each rendered segment including its terminator.
func (ic *Interchange) Strings() []string {
	out := make([]string, len(ic.Segments))
	for i, seg := range ic.Segments {
		out[i] = seg.String() + string(SegmentTerminator)
	}
	return out
}

// Bytes joins the segments into the wire payload.
func (ic *Interchange) Bytes() []byte {
	return []byte(strings.Join(ic.Strings(), ""))
}

// GetSegment returns the first segment with the given ID, or nil.
func (ic *Interchange) GetSegment(id string) *Segment {
	for i := range ic.Segments {
		if ic.Segments[i].ID == id {
			return &ic.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given ID.
func (ic *Interchange) GetSegments(id string) []Segment {
	var result []Segment
	for _, seg := range ic.Segments {
		if seg.ID == id {
			result = append(result, seg)
		}
	}
	return result
}

// Parse scans a raw interchange into segments. The element, component and
// segment delimiters are read from the ISA header. A payload still wrapped in
// a CDATA block or padded with whitespace is unwrapped first.
func Parse(raw []byte) (*Interchange, error) {
	text := unwrapPayload(string(raw))
	if text == "" {
		return nil, &DecodeError{Reason: "interchange is empty"}
	}
	if !strings.HasPrefix(text, "ISA") {
		return nil, &DecodeError{Segment: "ISA", Reason: fmt.Sprintf("first segment must be ISA, got %q", text[:min(3, len(text))])}
	}
	if len(text) < isaLength {
		return nil, &DecodeError{Segment: "ISA", Reason: "ISA header is truncated"}
	}

	elemSep := text[3]
	compSep := text[104]
	segTerm := text[105]

	ic := &Interchange{ComponentSep: compSep}
	for _, line := range strings.Split(text, string(segTerm)) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, string(elemSep))
		ic.Segments = append(ic.Segments, Segment{ID: parts[0], Elements: parts[1:]})
	}

	if err := ic.extractEnvelope(); err != nil {
		return nil, err
	}
	return ic, nil
}

func (ic *Interchange) extractEnvelope() error {
	isa := ic.GetSegment("ISA")
	if isa == nil || len(isa.Elements) < 16 {
		return &DecodeError{Segment: "ISA", Reason: "ISA must carry 16 elements"}
	}
	ic.SenderID = strings.TrimSpace(isa.Element(6))
	ic.ReceiverID = strings.TrimSpace(isa.Element(8))
	ic.ControlNumber = isa.Element(13)

	if gs := ic.GetSegment("GS"); gs != nil {
		ic.GroupControlNumber = gs.Element(6)
	}
	st := ic.GetSegment("ST")
	if st == nil {
		return &DecodeError{Segment: "ST", Reason: "transaction set header not found"}
	}
	ic.TransactionType = st.Element(1)
	return nil
}

func unwrapPayload(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "<![CDATA["); i >= 0 {
		s = s[i+len("<![CDATA["):]
		if j := strings.Index(s, "]]>"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "ISA"); i > 0 {
		s = s[i:]
	}
	return s
}
