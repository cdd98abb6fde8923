package sftp

import (
	"bytes"
	"strings"

	"github.com/homecare/claims/internal/platform/x12"
)

// Response file kinds found in the outbound directory.
const (
	KindRemittance       = "835"
	KindAcknowledgment   = "999"
	KindClaimStatus      = "277"
	KindClaimAck         = "277CA"
	KindInterchangeAck   = "TA1"
	KindUnknown          = ""
	claimAckGuideVersion = "X214"
)

// ClassifyFile reports the kind of a response file from its ST01, falling
// back to the filename when the content cannot be parsed.
func ClassifyFile(name string, content []byte) string {
	if ic, err := x12.Parse(content); err == nil {
		switch ic.TransactionType {
		case "835":
			return KindRemittance
		case "999":
			return KindAcknowledgment
		case "277":
			if gs := ic.GetSegment("GS"); gs != nil && strings.Contains(gs.Element(8), claimAckGuideVersion) {
				return KindClaimAck
			}
			return KindClaimStatus
		}
		return KindUnknown
	}
	if bytes.Contains(content, []byte("TA1")) {
		return KindInterchangeAck
	}

	upper := strings.ToUpper(name)
	for _, kind := range []string{KindRemittance, KindAcknowledgment, KindClaimAck, KindInterchangeAck} {
		if strings.Contains(upper, kind) {
			return kind
		}
	}
	return KindUnknown
}
