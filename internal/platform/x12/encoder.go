package x12

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Implementation guide versions carried in GS08/ST03.
const (
	Version270  = "005010X279A1"
	Version276  = "005010X212"
	Version837P = "005010X222A1"
)

const (
	dateFormat     = "20060102"
	isaDateFormat  = "060102"
	timeFormat     = "1504"
	transactionSet = "0001"
	groupControl   = "1"
)

// Encoder turns typed requests into interchanges. It holds only envelope
// identity and is safe for concurrent use when Now and ControlNumber are.
type Encoder struct {
	SenderID       string
	ReceiverID     string
	UsageIndicator string // "P" production, "T" test
	PayerName      string
	PayerID        string

	// Now defaults to time.Now.
	Now func() time.Time
	// ControlNumber yields ISA13; defaults to a random 9-digit number.
	ControlNumber func() int
}

// NewEncoder returns an encoder for the given trading pair.
func NewEncoder(senderID, receiverID, usage, payerName, payerID string) *Encoder {
	return &Encoder{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		UsageIndicator: usage,
		PayerName:      payerName,
		PayerID:        payerID,
	}
}

func (e *Encoder) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Encoder) controlNumber() string {
	n := rand.IntN(999999999) + 1
	if e.ControlNumber != nil {
		n = e.ControlNumber()
	}
	return fmt.Sprintf("%09d", n%1000000000)
}

// builder accumulates segments between ST and SE and closes the envelope with
// counts computed from what was actually written.
type builder struct {
	segments []Segment
	stIndex  int
	ic       *Interchange
}

func (e *Encoder) begin(tx, functionalID, version string) *builder {
	now := e.now()
	usage := e.UsageIndicator
	if usage == "" {
		usage = "P"
	}
	ctrl := e.controlNumber()

	b := &builder{ic: &Interchange{
		SenderID:           e.SenderID,
		ReceiverID:         e.ReceiverID,
		ControlNumber:      ctrl,
		GroupControlNumber: groupControl,
		TransactionType:    tx,
		ComponentSep:       ComponentSeparator,
	}}

	b.add(Segment{ID: "ISA", Elements: []string{
		"00", pad("", 10),
		"00", pad("", 10),
		"ZZ", pad(e.SenderID, 15),
		"ZZ", pad(e.ReceiverID, 15),
		now.Format(isaDateFormat), now.Format(timeFormat),
		string(RepetitionSep), "00501", ctrl, "0", usage,
		string(ComponentSeparator),
	}})
	b.add(NewSegment("GS", functionalID, e.SenderID, e.ReceiverID,
		now.Format(dateFormat), now.Format(timeFormat), groupControl, "X", version))
	b.stIndex = len(b.segments)
	b.add(NewSegment("ST", tx, transactionSet, version))
	return b
}

func (b *builder) add(segs ...Segment) {
	b.segments = append(b.segments, segs...)
}

func (b *builder) finish() *Interchange {
	count := len(b.segments) - b.stIndex + 1
	b.add(
		NewSegment("SE", strconv.Itoa(count), transactionSet),
		NewSegment("GE", "1", groupControl),
		NewSegment("IEA", "1", b.ic.ControlNumber),
	)
	b.ic.Segments = b.segments
	return b.ic
}

func (e *Encoder) validateEnvelope(tx string) error {
	if e.SenderID == "" {
		return missing(tx, "sender id")
	}
	if e.ReceiverID == "" {
		return missing(tx, "receiver id")
	}
	if len(e.SenderID) > 15 || len(e.ReceiverID) > 15 {
		return &EncodingError{Transaction: tx, Field: "interchange id", Reason: "must be at most 15 characters"}
	}
	return nil
}

// Encode270 builds an eligibility inquiry.
func (e *Encoder) Encode270(req EligibilityRequest) (*Interchange, error) {
	const tx = "270"
	if err := e.validateEnvelope(tx); err != nil {
		return nil, err
	}
	switch {
	case req.MemberID == "":
		return nil, missing(tx, "member id")
	case req.LastName == "":
		return nil, missing(tx, "last name")
	case req.DateOfBirth.IsZero():
		return nil, missing(tx, "date of birth")
	case req.ProviderNPI == "":
		return nil, missing(tx, "provider npi")
	}

	now := e.now()
	serviceType := req.ServiceTypeCode
	if serviceType == "" {
		serviceType = DefaultServiceTypeCode
	}
	trace := req.TraceNumber
	if trace == "" {
		trace = req.MemberID + now.Format(dateFormat)
	}
	serviceDate := req.ServiceDate
	if serviceDate.IsZero() {
		serviceDate = now
	}

	b := e.begin(tx, "HS", Version270)
	b.add(
		NewSegment("BHT", "0022", "13", clean(trace), now.Format(dateFormat), now.Format(timeFormat)),
		NewSegment("HL", "1", "", "20", "1"),
		NewSegment("NM1", "PR", "2", name(e.PayerName), "", "", "", "", "PI", e.PayerID),
		NewSegment("HL", "2", "1", "21", "1"),
		NewSegment("NM1", "1P", "2", name(req.ProviderName), "", "", "", "", "XX", req.ProviderNPI),
		NewSegment("HL", "3", "2", "22", "0"),
		NewSegment("TRN", "1", clean(trace), originatorID(e.SenderID)),
		NewSegment("NM1", "IL", "1", name(req.LastName), name(req.FirstName), "", "", "", "MI", clean(req.MemberID)),
		NewSegment("DMG", "D8", req.DateOfBirth.Format(dateFormat), genderCode(req.Gender)),
		NewSegment("DTP", "291", "D8", serviceDate.Format(dateFormat)),
		NewSegment("EQ", serviceType),
	)
	return b.finish(), nil
}

// Encode276 builds a claim status inquiry. It carries a provider level in
// addition to the payer/receiver/subscriber structure of the 270, and two
// traces: TRN for the patient and REF*EJ for the claim.
func (e *Encoder) Encode276(req ClaimStatusRequest) (*Interchange, error) {
	const tx = "276"
	if err := e.validateEnvelope(tx); err != nil {
		return nil, err
	}
	switch {
	case req.ClaimID == "":
		return nil, missing(tx, "claim id")
	case req.MemberID == "":
		return nil, missing(tx, "member id")
	case req.LastName == "":
		return nil, missing(tx, "last name")
	case req.ProviderNPI == "":
		return nil, missing(tx, "provider npi")
	}

	now := e.now()
	patientTrace := req.PatientTrace
	if patientTrace == "" {
		patientTrace = req.ClaimID
	}
	claimTrace := req.ClaimTrace
	if claimTrace == "" {
		claimTrace = req.ClaimID
	}

	b := e.begin(tx, "HR", Version276)
	b.add(
		NewSegment("BHT", "0010", "13", clean(patientTrace), now.Format(dateFormat), now.Format(timeFormat)),
		NewSegment("HL", "1", "", "20", "1"),
		NewSegment("NM1", "PR", "2", name(e.PayerName), "", "", "", "", "PI", e.PayerID),
		NewSegment("HL", "2", "1", "21", "1"),
		NewSegment("NM1", "41", "2", name(req.ProviderName), "", "", "", "", "46", e.SenderID),
		NewSegment("HL", "3", "2", "19", "1"),
		NewSegment("NM1", "1P", "2", name(req.ProviderName), "", "", "", "", "XX", req.ProviderNPI),
		NewSegment("HL", "4", "3", "22", "0"),
	)
	if !req.DateOfBirth.IsZero() {
		b.add(NewSegment("DMG", "D8", req.DateOfBirth.Format(dateFormat), genderCode(req.Gender)))
	}
	b.add(
		NewSegment("NM1", "IL", "1", name(req.LastName), name(req.FirstName), "", "", "", "MI", clean(req.MemberID)),
		NewSegment("TRN", "1", clean(patientTrace)),
		NewSegment("REF", "EJ", clean(claimTrace)),
	)
	if req.PayerClaimControlNumber != "" {
		b.add(NewSegment("REF", "1K", clean(req.PayerClaimControlNumber)))
	}
	if !req.TotalCharge.IsZero() {
		b.add(NewSegment("AMT", "T3", amount(req.TotalCharge)))
	}
	if req.ServiceDate != nil {
		if req.ServiceDateEnd != nil && !req.ServiceDateEnd.Equal(*req.ServiceDate) {
			b.add(NewSegment("DTP", "472", "RD8", req.ServiceDate.Format(dateFormat)+"-"+req.ServiceDateEnd.Format(dateFormat)))
		} else {
			b.add(NewSegment("DTP", "472", "D8", req.ServiceDate.Format(dateFormat)))
		}
	}
	return b.finish(), nil
}

// Encode837P builds one professional claim interchange carrying every claim
// in the batch, each under its own subscriber hierarchical level.
func (e *Encoder) Encode837P(batch ClaimBatch) (*Interchange, error) {
	const tx = "837"
	enc := *e
	if batch.SenderID != "" {
		enc.SenderID = batch.SenderID
	}
	if batch.ReceiverID != "" {
		enc.ReceiverID = batch.ReceiverID
	}
	if batch.PayerName != "" {
		enc.PayerName = batch.PayerName
	}
	if batch.PayerID != "" {
		enc.PayerID = batch.PayerID
	}
	if err := enc.validateEnvelope(tx); err != nil {
		return nil, err
	}
	switch {
	case batch.ProviderName == "":
		return nil, missing(tx, "provider name")
	case batch.NPI == "":
		return nil, missing(tx, "provider npi")
	case len(batch.Claims) == 0:
		return nil, &EncodingError{Transaction: tx, Field: "claims", Reason: "batch has no claims"}
	}
	for i, c := range batch.Claims {
		if err := validateClaimRecord(c); err != nil {
			return nil, &EncodingError{Transaction: tx, Field: fmt.Sprintf("claims[%d] %s", i, err.Field), Reason: err.Reason}
		}
	}

	now := enc.now()
	b := enc.begin(tx, "HC", Version837P)
	receiverName := batch.ReceiverName
	if receiverName == "" {
		receiverName = enc.PayerName
	}
	b.add(
		NewSegment("BHT", "0019", "00", clean(firstNonEmpty(batch.ReferenceID, batch.Claims[0].ClaimNumber)), now.Format(dateFormat), now.Format(timeFormat), "CH"),
		NewSegment("NM1", "41", "2", name(batch.ProviderName), "", "", "", "", "46", enc.SenderID),
		NewSegment("PER", "IC", name(firstNonEmpty(batch.ContactName, batch.ProviderName)), "TE", digits(batch.ContactPhone)),
		NewSegment("NM1", "40", "2", name(receiverName), "", "", "", "", "46", enc.ReceiverID),
		NewSegment("HL", "1", "", "20", "1"),
	)
	if batch.Taxonomy != "" {
		b.add(NewSegment("PRV", "BI", "PXC", batch.Taxonomy))
	}
	b.add(NewSegment("NM1", "85", "2", name(batch.ProviderName), "", "", "", "", "XX", batch.NPI))
	b.add(addressSegments(batch.Address)...)
	if batch.TaxID != "" {
		b.add(NewSegment("REF", "EI", digits(batch.TaxID)))
	}

	for i, c := range batch.Claims {
		hl := strconv.Itoa(i + 2)
		pos := c.PlaceOfService
		if pos == "" {
			pos = "12"
		}
		procedure := "HC" + string(ComponentSeparator) + clean(c.ProcedureCode)
		for _, m := range c.Modifiers {
			procedure += string(ComponentSeparator) + clean(m)
		}
		units := c.Units
		if units.IsZero() {
			units = decimal.NewFromInt(1)
		}

		b.add(
			NewSegment("HL", hl, "1", "22", "0"),
			NewSegment("SBR", "P", "18", "", "", "", "", "", "", "MC"),
			NewSegment("NM1", "IL", "1", name(c.Patient.LastName), name(c.Patient.FirstName), "", "", "", "MI", clean(c.Patient.MemberID)),
		)
		b.add(addressSegments(c.Patient.Address)...)
		b.add(
			NewSegment("DMG", "D8", c.Patient.DateOfBirth.Format(dateFormat), genderCode(c.Patient.Gender)),
			NewSegment("NM1", "PR", "2", name(enc.PayerName), "", "", "", "", "PI", enc.PayerID),
			NewSegment("CLM", clean(c.ClaimNumber), amount(c.TotalCharge), "", "",
				pos+string(ComponentSeparator)+"B"+string(ComponentSeparator)+"1", "Y", "A", "Y", "Y"),
		)
		if c.DiagnosisCode != "" {
			b.add(NewSegment("HI", "ABK"+string(ComponentSeparator)+strings.ReplaceAll(clean(c.DiagnosisCode), ".", "")))
		}
		if c.Rendering.NPI != "" {
			b.add(NewSegment("NM1", "82", "1", name(c.Rendering.LastName), name(c.Rendering.FirstName), "", "", "", "XX", c.Rendering.NPI))
		}
		b.add(
			NewSegment("LX", "1"),
			NewSegment("SV1", procedure, amount(c.TotalCharge), "UN", units.String(), "", "", "1"),
			NewSegment("DTP", "472", "D8", c.ServiceDate.Format(dateFormat)),
		)
	}
	return b.finish(), nil
}

func validateClaimRecord(c ClaimRecord) *EncodingError {
	switch {
	case c.ClaimNumber == "":
		return &EncodingError{Field: "claim number", Reason: "is required"}
	case c.ServiceDate.IsZero():
		return &EncodingError{Field: "service date", Reason: "is required"}
	case c.ProcedureCode == "":
		return &EncodingError{Field: "procedure code", Reason: "is required"}
	case c.Patient.MemberID == "":
		return &EncodingError{Field: "patient member id", Reason: "is required"}
	case c.Patient.LastName == "":
		return &EncodingError{Field: "patient last name", Reason: "is required"}
	case c.Patient.DateOfBirth.IsZero():
		return &EncodingError{Field: "patient date of birth", Reason: "is required"}
	case !c.TotalCharge.IsPositive():
		return &EncodingError{Field: "total charge", Reason: "must be greater than zero"}
	}
	return nil
}

func addressSegments(a Address) []Segment {
	if a.IsZero() {
		return nil
	}
	return []Segment{
		NewSegment("N3", clean(strings.ToUpper(a.Line1)), clean(strings.ToUpper(a.Line2))),
		NewSegment("N4", clean(strings.ToUpper(a.City)), clean(strings.ToUpper(a.State)), digits(a.Zip)),
	}
}

var delimiterStripper = strings.NewReplacer(
	string(ElementSeparator), "",
	string(ComponentSeparator), "",
	string(SegmentTerminator), "",
	string(RepetitionSep), "",
	"\r", "",
	"\n", "",
)

// clean strips delimiter characters from an element value.
func clean(s string) string {
	return strings.TrimSpace(delimiterStripper.Replace(s))
}

func name(s string) string {
	return strings.ToUpper(clean(s))
}

func digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func genderCode(g string) string {
	switch strings.ToUpper(strings.TrimSpace(g)) {
	case "M", "MALE":
		return GenderMale
	case "F", "FEMALE":
		return GenderFemale
	default:
		return GenderUnknown
	}
}

// originatorID is TRN03: "9" followed by a 9-digit identifier.
func originatorID(senderID string) string {
	d := digits(senderID)
	if len(d) > 9 {
		d = d[len(d)-9:]
	}
	return "9" + strings.Repeat("0", 9-len(d)) + d
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
