// Package core is the CAQH CORE real-time client used for 270/271 eligibility
// and 276/277 claim status exchanges with the payer.
package core

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Payload types for the supported real-time exchanges.
const (
	PayloadType270 = "X12_270_Request_005010X279A1"
	PayloadType271 = "X12_271_Response_005010X279A1"
	PayloadType276 = "X12_276_Request_005010X212"
	PayloadType277 = "X12_277_Response_005010X212"
)

const (
	DefaultRuleVersion = "2.2.0"
	ProcessingModeRT   = "RealTime"
	ErrorCodeSuccess   = "Success"

	soapNS      = "http://www.w3.org/2003/05/soap-envelope"
	coreNSFmt   = "http://www.caqh.org/SOAP/WSDL/CORERule%s.xsd"
	wsseNS      = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	passwordTxt = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
	contentType = `application/soap+xml; charset=utf-8; action="RealTimeTransaction"`
)

// RealTimeRequest is the body of a CORE real-time request.
type RealTimeRequest struct {
	PayloadType     string
	ProcessingMode  string
	PayloadID       string
	TimeStamp       time.Time
	SenderID        string
	ReceiverID      string
	CORERuleVersion string
	Payload         []byte
}

// RealTimeResponse is the body of a CORE real-time response.
type RealTimeResponse struct {
	PayloadType     string `xml:"PayloadType"`
	ProcessingMode  string `xml:"ProcessingMode"`
	PayloadID       string `xml:"PayloadID"`
	TimeStamp       string `xml:"TimeStamp"`
	SenderID        string `xml:"SenderID"`
	ReceiverID      string `xml:"ReceiverID"`
	CORERuleVersion string `xml:"CORERuleVersion"`
	Payload         string `xml:"Payload"`
	ErrorCode       string `xml:"ErrorCode"`
	ErrorMessage    string `xml:"ErrorMessage"`
}

type cdata struct {
	Value string `xml:",cdata"`
}

type outEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapNS  string   `xml:"xmlns:soapenv,attr"`
	CoreNS  string   `xml:"xmlns:cor,attr"`
	Header  outHeader
	Body    outBody
}

type outHeader struct {
	XMLName  xml.Name `xml:"soapenv:Header"`
	Security outSecurity
}

type outSecurity struct {
	XMLName        xml.Name `xml:"wsse:Security"`
	WsseNS         string   `xml:"xmlns:wsse,attr"`
	MustUnderstand string   `xml:"soapenv:mustUnderstand,attr"`
	Token          outToken
}

type outToken struct {
	XMLName  xml.Name `xml:"wsse:UsernameToken"`
	Username string   `xml:"wsse:Username"`
	Password outPassword
}

type outPassword struct {
	XMLName xml.Name `xml:"wsse:Password"`
	Type    string   `xml:"Type,attr"`
	Value   string   `xml:",chardata"`
}

type outBody struct {
	XMLName xml.Name `xml:"soapenv:Body"`
	Request outRequest
}

type outRequest struct {
	XMLName         xml.Name `xml:"cor:COREEnvelopeRealTimeRequest"`
	PayloadType     string   `xml:"PayloadType"`
	ProcessingMode  string   `xml:"ProcessingMode"`
	PayloadID       string   `xml:"PayloadID"`
	TimeStamp       string   `xml:"TimeStamp"`
	SenderID        string   `xml:"SenderID"`
	ReceiverID      string   `xml:"ReceiverID"`
	CORERuleVersion string   `xml:"CORERuleVersion"`
	Payload         cdata    `xml:"Payload"`
}

// MarshalEnvelope renders the SOAP 1.2 envelope carrying the request and a
// WS-Security UsernameToken.
func MarshalEnvelope(req RealTimeRequest, username, password string) ([]byte, error) {
	version := req.CORERuleVersion
	if version == "" {
		version = DefaultRuleVersion
	}
	mode := req.ProcessingMode
	if mode == "" {
		mode = ProcessingModeRT
	}
	env := outEnvelope{
		SoapNS: soapNS,
		CoreNS: fmt.Sprintf(coreNSFmt, version),
		Header: outHeader{Security: outSecurity{
			WsseNS:         wsseNS,
			MustUnderstand: "true",
			Token: outToken{
				Username: username,
				Password: outPassword{Type: passwordTxt, Value: password},
			},
		}},
		Body: outBody{Request: outRequest{
			PayloadType:     req.PayloadType,
			ProcessingMode:  mode,
			PayloadID:       req.PayloadID,
			TimeStamp:       req.TimeStamp.UTC().Format(time.RFC3339),
			SenderID:        req.SenderID,
			ReceiverID:      req.ReceiverID,
			CORERuleVersion: version,
			Payload:         cdata{Value: string(req.Payload)},
		}},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type inEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response *RealTimeResponse `xml:"COREEnvelopeRealTimeResponse"`
		Fault    *soapFault        `xml:"Fault"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"Code>Value"`
	Reason string `xml:"Reason>Text"`
	// SOAP 1.1 style faults still show up behind some gateways.
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

func (f *soapFault) String() string {
	code := firstNonEmpty(f.Code, f.FaultCode)
	reason := firstNonEmpty(f.Reason, f.FaultString)
	return strings.TrimSpace(code + " " + reason)
}

// UnmarshalEnvelope extracts the CORE response from a SOAP envelope. A SOAP
// fault or a response without the CORE body is returned as an error.
func UnmarshalEnvelope(body []byte) (*RealTimeResponse, error) {
	var env inEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, fmt.Errorf("soap fault: %s", env.Body.Fault)
	}
	if env.Body.Response == nil {
		return nil, fmt.Errorf("envelope has no COREEnvelopeRealTimeResponse")
	}
	resp := env.Body.Response
	resp.Payload = strings.TrimSpace(resp.Payload)
	return resp, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
