package x12

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// aaaReasons maps AAA03 reject reason codes to text.
var aaaReasons = map[string]string{
	"15": "Required application data missing",
	"41": "Authorization/access restrictions",
	"42": "Unable to respond at current time",
	"43": "Invalid/missing provider identification",
	"58": "Invalid/missing date of birth",
	"64": "Invalid/missing patient ID",
	"65": "Invalid/missing patient name",
	"71": "Patient birth date does not match that for the patient on the database",
	"72": "Invalid/missing subscriber/insured ID",
	"73": "Invalid/missing subscriber/insured name",
	"75": "Subscriber/insured not found",
	"76": "Duplicate subscriber/insured ID number",
	"79": "Invalid participant identification",
}

// stcCategories maps STC01-1 claim status category codes to text.
var stcCategories = map[string]string{
	"A0": "Acknowledgement/Forwarded",
	"A1": "Acknowledgement/Receipt",
	"A2": "Acknowledgement/Acceptance into adjudication system",
	"A3": "Acknowledgement/Returned as unprocessable claim",
	"A4": "Acknowledgement/Not Found",
	"A6": "Acknowledgement/Rejected for Missing Information",
	"A7": "Acknowledgement/Rejected for Invalid Information",
	"F0": "Finalized",
	"F1": "Finalized/Payment",
	"F2": "Finalized/Denial",
	"F3": "Finalized/Revised",
	"F4": "Finalized/Adjudication Complete - No payment forthcoming",
	"P0": "Pending: Adjudication/Details",
	"P1": "Pending/In Process",
	"P2": "Pending/Payer Review",
	"P3": "Pending/Provider Requested Information",
	"P4": "Pending/Patient Requested Information",
	"R0": "Requests for additional Information/General Requests",
}

var statusDescriptions = map[ClaimStatusCode]string{
	ClaimStatusReceived: "Received",
	ClaimStatusPending:  "Pending",
	ClaimStatusRejected: "Rejected",
	ClaimStatusPaid:     "Paid",
	ClaimStatusDenied:   "Denied",
	ClaimStatusPartial:  "Partial",
}

// Decode270 reads the subscriber back out of an eligibility inquiry.
func Decode270(raw []byte) (*EligibilityRequest, error) {
	ic, err := Parse(raw)
	if err != nil {
		return nil, withTransaction(err, "270")
	}
	if ic.TransactionType != "270" {
		return nil, &DecodeError{Transaction: "270", Segment: "ST", Reason: fmt.Sprintf("unexpected transaction set %q", ic.TransactionType)}
	}

	req := &EligibilityRequest{}
	for _, seg := range ic.Segments {
		switch seg.ID {
		case "NM1":
			switch seg.Element(1) {
			case "IL":
				req.LastName = seg.Element(3)
				req.FirstName = seg.Element(4)
				req.MemberID = seg.Element(9)
			case "1P":
				req.ProviderName = seg.Element(3)
				req.ProviderNPI = seg.Element(9)
			}
		case "DMG":
			if t, ok := parseDate(seg.Element(1), seg.Element(2)); ok {
				req.DateOfBirth = t
			}
			req.Gender = seg.Element(3)
		case "TRN":
			req.TraceNumber = seg.Element(2)
		case "DTP":
			if seg.Element(1) == "291" {
				if t, ok := parseDate(seg.Element(2), seg.Element(3)); ok {
					req.ServiceDate = t
				}
			}
		case "EQ":
			req.ServiceTypeCode = seg.Element(1)
		}
	}
	return req, nil
}

// Decode271 projects an eligibility response. It never fails: a payload that
// cannot be parsed yields an inactive response whose rejection reason carries
// the parse error.
func Decode271(raw []byte) *EligibilityResponse {
	ic, err := Parse(raw)
	if err != nil {
		return parseFailure(err)
	}
	if ic.TransactionType != "271" {
		return parseFailure(fmt.Errorf("unexpected transaction set %q", ic.TransactionType))
	}

	resp := &EligibilityResponse{}
	for _, seg := range ic.Segments {
		switch seg.ID {
		case "NM1":
			switch seg.Element(1) {
			case "PR":
				if v := seg.Element(3); v != "" {
					resp.PayerName = &v
				}
			case "IL":
				resp.LastName = seg.Element(3)
				resp.FirstName = seg.Element(4)
				resp.MemberID = seg.Element(9)
			}
		case "DMG":
			if t, ok := parseDate(seg.Element(1), seg.Element(2)); ok {
				resp.DateOfBirth = &t
			}
			resp.Gender = seg.Element(3)
		case "EB":
			readBenefit(resp, seg)
		case "DTP":
			readCoverageDate(resp, seg)
		case "AAA":
			// AAA03 carries the reject reason whether AAA01 is Y or N.
			if code := seg.Element(3); code != "" || seg.Element(1) == "N" {
				reason := aaaReasons[code]
				if reason == "" {
					reason = "Request rejected by payer"
				}
				resp.RejectionCode = &code
				resp.RejectionReason = &reason
				resp.Active = false
			}
		}
	}
	if resp.RejectionReason != nil {
		resp.Active = false
	}
	return resp
}

func readBenefit(resp *EligibilityResponse, seg Segment) {
	switch seg.Element(1) {
	case "1":
		if resp.RejectionReason == nil {
			resp.Active = true
		}
		if v := seg.Element(5); v != "" && resp.PlanName == nil {
			resp.PlanName = &v
		}
	case "B":
		if d, ok := parseAmount(seg.Element(7)); ok {
			resp.Copay = &d
		}
	case "C":
		if d, ok := parseAmount(seg.Element(7)); ok {
			resp.Deductible = &d
		}
	}
}

func readCoverageDate(resp *EligibilityResponse, seg Segment) {
	qualifier, format, value := seg.Element(1), seg.Element(2), seg.Element(3)
	switch qualifier {
	case "346", "356":
		if t, ok := parseDate(format, value); ok {
			resp.CoverageStart = &t
		}
	case "347", "357":
		if t, ok := parseDate(format, value); ok {
			resp.CoverageEnd = &t
		}
	case "291", "307":
		if format == "RD8" {
			if start, end, ok := parseRange(value); ok {
				resp.CoverageStart = &start
				resp.CoverageEnd = &end
			}
		} else if t, ok := parseDate(format, value); ok && resp.CoverageStart == nil {
			resp.CoverageStart = &t
		}
	}
}

func parseFailure(err error) *EligibilityResponse {
	reason := "parse error: " + err.Error()
	return &EligibilityResponse{Active: false, RejectionReason: &reason}
}

// Decode277 projects a claim status response.
func Decode277(raw []byte) (*ClaimStatusResponse, error) {
	ic, err := Parse(raw)
	if err != nil {
		return nil, withTransaction(err, "277")
	}
	if ic.TransactionType != "277" {
		return nil, &DecodeError{Transaction: "277", Segment: "ST", Reason: fmt.Sprintf("unexpected transaction set %q", ic.TransactionType)}
	}

	stc := ic.GetSegment("STC")
	if stc == nil {
		return nil, &DecodeError{Transaction: "277", Segment: "STC", Reason: "status segment not found"}
	}

	resp := &ClaimStatusResponse{}
	category, code := splitStatus(stc.Element(1), ic.ComponentSep)
	resp.Category = category
	resp.RawStatusCode = code
	resp.StatusCode = MapClaimStatusCode(code)
	resp.Description = describeStatus(resp.StatusCode, category, stc.Element(12))

	if d, ok := parseAmount(stc.Element(4)); ok {
		resp.ChargeAmount = &d
	}
	if d, ok := parseAmount(stc.Element(5)); ok {
		resp.PaymentAmount = &d
	}
	if t, ok := parseDate("D8", stc.Element(6)); ok {
		resp.AdjudicationDate = &t
	}
	if v := stc.Element(9); v != "" {
		resp.CheckNumber = &v
	}

	for _, seg := range ic.Segments {
		switch seg.ID {
		case "REF":
			v := seg.Element(2)
			if v == "" {
				continue
			}
			switch seg.Element(1) {
			case "1K":
				resp.PayerClaimControlNumber = &v
			case "BB", "CK":
				if resp.CheckNumber == nil {
					resp.CheckNumber = &v
				}
			}
		case "AMT":
			d, ok := parseAmount(seg.Element(2))
			if !ok {
				continue
			}
			switch seg.Element(1) {
			case "D":
				resp.PaymentAmount = &d
			case "F5":
				resp.PatientResponsibility = &d
			}
		case "DTP":
			switch seg.Element(1) {
			case "573", "050":
				if resp.AdjudicationDate == nil {
					if t, ok := parseDate(seg.Element(2), seg.Element(3)); ok {
						resp.AdjudicationDate = &t
					}
				}
			}
		}
	}
	return resp, nil
}

// splitStatus splits STC01 into category and status code. A lone component is
// taken as the status code.
func splitStatus(composite string, sep byte) (category, code string) {
	parts := strings.Split(composite, string(sep))
	if len(parts) == 1 {
		return "", strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func describeStatus(status ClaimStatusCode, category, freeText string) string {
	if freeText != "" {
		return freeText
	}
	desc := statusDescriptions[status]
	if c, ok := stcCategories[category]; ok {
		desc += " (" + c + ")"
	}
	return desc
}

// Decode835 reads every CLP loop of a remittance advice. Header values (payer
// name, payment date, check number) are carried into each record; each CLP
// closes the previous record and opens a new one.
func Decode835(raw []byte) ([]RemittanceAdvice, error) {
	ic, err := Parse(raw)
	if err != nil {
		return nil, withTransaction(err, "835")
	}
	if ic.TransactionType != "835" {
		return nil, &DecodeError{Transaction: "835", Segment: "ST", Reason: fmt.Sprintf("unexpected transaction set %q", ic.TransactionType)}
	}

	var (
		out         []RemittanceAdvice
		current     *RemittanceAdvice
		line        *ServiceLine
		payerName   string
		checkNumber string
		paymentDate *time.Time
	)
	closeLine := func() {
		if current != nil && line != nil {
			current.ServiceLines = append(current.ServiceLines, *line)
		}
		line = nil
	}
	closeClaim := func() {
		closeLine()
		if current != nil {
			out = append(out, *current)
		}
		current = nil
	}

	for _, seg := range ic.Segments {
		switch seg.ID {
		case "ST":
			closeClaim()
			payerName, checkNumber, paymentDate = "", "", nil
		case "BPR":
			if t, ok := parseDate("D8", seg.Element(16)); ok {
				paymentDate = &t
			}
		case "TRN":
			checkNumber = seg.Element(2)
		case "DTM":
			t, ok := parseDate("D8", seg.Element(2))
			if !ok {
				continue
			}
			switch seg.Element(1) {
			case "405":
				if paymentDate == nil {
					paymentDate = &t
				}
			case "472", "150":
				if line != nil {
					line.ServiceDate = &t
				}
			}
		case "N1":
			if seg.Element(1) == "PR" && current == nil {
				payerName = seg.Element(2)
			}
		case "CLP":
			closeClaim()
			ra, err := openClaim(seg)
			if err != nil {
				return nil, err
			}
			ra.PayerName = payerName
			ra.CheckNumber = checkNumber
			ra.PaymentDate = paymentDate
			current = ra
		case "CAS":
			if current == nil {
				continue
			}
			adj := readAdjustments(seg)
			if line != nil {
				line.Adjustments = append(line.Adjustments, adj...)
			} else {
				current.Adjustments = append(current.Adjustments, adj...)
			}
		case "SVC":
			if current == nil {
				continue
			}
			closeLine()
			line = readServiceLine(seg, ic.ComponentSep)
		case "SE":
			closeClaim()
		}
	}
	closeClaim()
	return out, nil
}

func openClaim(seg Segment) (*RemittanceAdvice, error) {
	ra := &RemittanceAdvice{
		ClaimNumber:             seg.Element(1),
		ClaimStatusCode:         seg.Element(2),
		PayerClaimControlNumber: seg.Element(7),
	}
	if ra.ClaimNumber == "" {
		return nil, &DecodeError{Transaction: "835", Segment: "CLP", Reason: "claim submitter identifier is empty"}
	}
	var err error
	if ra.ChargeAmount, err = requiredAmount(seg.Element(3)); err != nil {
		return nil, &DecodeError{Transaction: "835", Segment: "CLP03", Reason: "invalid charge amount", Err: err}
	}
	if ra.PaymentAmount, err = requiredAmount(seg.Element(4)); err != nil {
		return nil, &DecodeError{Transaction: "835", Segment: "CLP04", Reason: "invalid payment amount", Err: err}
	}
	if v := seg.Element(5); v != "" {
		if ra.PatientResponsibility, err = decimal.NewFromString(v); err != nil {
			return nil, &DecodeError{Transaction: "835", Segment: "CLP05", Reason: "invalid patient responsibility", Err: err}
		}
	}
	return ra, nil
}

// readAdjustments reads the repeating reason/amount/quantity triples of CAS.
func readAdjustments(seg Segment) []Adjustment {
	group := seg.Element(1)
	var out []Adjustment
	for i := 2; i+1 <= len(seg.Elements); i += 3 {
		reason := seg.Element(i)
		amt, ok := parseAmount(seg.Element(i + 1))
		if reason == "" || !ok {
			continue
		}
		out = append(out, Adjustment{
			GroupCode:  group,
			ReasonCode: reason,
			Amount:     amt,
			Quantity:   seg.Element(i + 2),
		})
	}
	return out
}

func readServiceLine(seg Segment, sep byte) *ServiceLine {
	parts := strings.Split(seg.Element(1), string(sep))
	sl := &ServiceLine{}
	if len(parts) > 1 {
		sl.ProcedureCode = parts[1]
		sl.Modifiers = parts[2:]
	} else {
		sl.ProcedureCode = parts[0]
	}
	sl.ChargeAmount, _ = parseAmount(seg.Element(2))
	sl.PaymentAmount, _ = parseAmount(seg.Element(3))
	sl.Units = seg.Element(5)
	return sl
}

func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func requiredAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDate(format, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	switch format {
	case "D8", "":
		if len(value) < 8 {
			return time.Time{}, false
		}
		t, err := time.Parse(dateFormat, value[:8])
		return t, err == nil
	case "RD8":
		start, _, ok := parseRange(value)
		return start, ok
	}
	return time.Time{}, false
}

func parseRange(value string) (time.Time, time.Time, bool) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	start, err1 := time.Parse(dateFormat, parts[0])
	end, err2 := time.Parse(dateFormat, parts[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func withTransaction(err error, tx string) error {
	if de, ok := err.(*DecodeError); ok && de.Transaction == "" {
		de.Transaction = tx
	}
	return err
}
