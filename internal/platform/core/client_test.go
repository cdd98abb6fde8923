package core

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homecare/claims/internal/platform/x12"
)

const (
	testEndpoint = "https://core.payer.example/RealTime"
	testISA      = "ISA*00*          *00*          *ZZ*OKMEDICAID     *ZZ*HOMECARE01     *240315*0930*^*00501*000000777*0*T*:~"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:   endpoint,
		Username:   "homecare-rt",
		Password:   "s3cret&<pw>",
		SenderID:   "HOMECARE01",
		ReceiverID: "OKMEDICAID",
	}
}

func testEncoder() *x12.Encoder {
	enc := x12.NewEncoder("HOMECARE01", "OKMEDICAID", "T", "Oklahoma Health Care Authority", "731476619")
	enc.Now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }
	return enc
}

func wrap271(body ...string) string {
	segs := append([]string{testISA, "GS*HB*OKMEDICAID*HOMECARE01*20240315*0930*1*X*005010X279A1~", "ST*271*0001*005010X279A1~"}, suffix(body)...)
	segs = append(segs, fmt.Sprintf("SE*%d*0001~GE*1*1~IEA*1*000000777~", len(body)+2))
	return strings.Join(segs, "")
}

func wrap277(body ...string) string {
	segs := append([]string{testISA, "GS*HN*OKMEDICAID*HOMECARE01*20240315*0930*1*X*005010X212~", "ST*277*0001*005010X212~"}, suffix(body)...)
	segs = append(segs, fmt.Sprintf("SE*%d*0001~GE*1*1~IEA*1*000000777~", len(body)+2))
	return strings.Join(segs, "")
}

func suffix(body []string) []string {
	out := make([]string, len(body))
	for i, s := range body {
		out[i] = s + "~"
	}
	return out
}

// payerEnvelope renders a CORE response envelope the way a payer gateway does.
func payerEnvelope(payloadType, payload, errorCode, errorMessage string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://www.w3.org/2003/05/soap-envelope" xmlns:cor="http://www.caqh.org/SOAP/WSDL/CORERule2.2.0.xsd">
  <soapenv:Header/>
  <soapenv:Body>
    <cor:COREEnvelopeRealTimeResponse>
      <PayloadType>` + payloadType + `</PayloadType>
      <ProcessingMode>RealTime</ProcessingMode>
      <PayloadID>b6a1c1f0-5c1e-4c55-9f6f-0e9e3a1c2d3e</PayloadID>
      <TimeStamp>2024-03-15T09:30:01Z</TimeStamp>
      <SenderID>OKMEDICAID</SenderID>
      <ReceiverID>HOMECARE01</ReceiverID>
      <CORERuleVersion>2.2.0</CORERuleVersion>
      <Payload><![CDATA[` + payload + `]]></Payload>
      <ErrorCode>` + errorCode + `</ErrorCode>
      <ErrorMessage>` + errorMessage + `</ErrorMessage>
    </cor:COREEnvelopeRealTimeResponse>
  </soapenv:Body>
</soapenv:Envelope>`
}

type capturedEnvelope struct {
	Header struct {
		Security struct {
			Token struct {
				Username string `xml:"Username"`
				Password struct {
					Type  string `xml:"Type,attr"`
					Value string `xml:",chardata"`
				} `xml:"Password"`
			} `xml:"UsernameToken"`
		} `xml:"Security"`
	} `xml:"Header"`
	Body struct {
		Request struct {
			PayloadType     string `xml:"PayloadType"`
			ProcessingMode  string `xml:"ProcessingMode"`
			PayloadID       string `xml:"PayloadID"`
			TimeStamp       string `xml:"TimeStamp"`
			SenderID        string `xml:"SenderID"`
			ReceiverID      string `xml:"ReceiverID"`
			CORERuleVersion string `xml:"CORERuleVersion"`
			Payload         string `xml:"Payload"`
		} `xml:"COREEnvelopeRealTimeRequest"`
	} `xml:"Body"`
}

// mockPayer is an in-process CORE endpoint that answers 270s and 276s.
type mockPayer struct {
	mu       sync.Mutex
	received []capturedEnvelope
	status   string // STC01 returned for 276s
}

func (p *mockPayer) handle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	var env capturedEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	p.mu.Lock()
	p.received = append(p.received, env)
	status := p.status
	p.mu.Unlock()

	req := env.Body.Request
	switch req.PayloadType {
	case PayloadType270:
		inquiry, err := x12.Decode270([]byte(req.Payload))
		if err != nil {
			return c.Blob(http.StatusOK, contentType, []byte(payerEnvelope(PayloadType271, "", "PayloadError", err.Error())))
		}
		payload := wrap271(
			"NM1*PR*2*OKLAHOMA HEALTH CARE AUTHORITY*****PI*731476619",
			"NM1*IL*1*"+inquiry.LastName+"*"+inquiry.FirstName+"****MI*"+inquiry.MemberID,
			"DMG*D8*"+inquiry.DateOfBirth.Format("20060102")+"*"+inquiry.Gender,
			"EB*1*IND*30**SOONERCARE",
		)
		return c.Blob(http.StatusOK, contentType, []byte(payerEnvelope(PayloadType271, payload, "Success", "")))
	case PayloadType276:
		payload := wrap277("STC*"+status+"*20240320**150.00*150.00", "REF*1K*PCN123")
		return c.Blob(http.StatusOK, contentType, []byte(payerEnvelope(PayloadType277, payload, "Success", "")))
	}
	return c.Blob(http.StatusOK, contentType, []byte(payerEnvelope(req.PayloadType, "", "PayloadTypeIncorrect", "unsupported payload type")))
}

func newMockPayer(t *testing.T) (*mockPayer, *httptest.Server) {
	t.Helper()
	payer := &mockPayer{status: "A1:4"}
	e := echo.New()
	e.HideBanner = true
	e.POST("/RealTime", payer.handle)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return payer, srv
}

func TestCheckEligibility_MockPayer(t *testing.T) {
	payer, srv := newMockPayer(t)
	client, err := New(testConfig(srv.URL + "/RealTime"))
	require.NoError(t, err)

	req := x12.EligibilityRequest{
		MemberID:     "1234567890123",
		FirstName:    "Jane",
		LastName:     "Doe",
		DateOfBirth:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:       "F",
		ProviderNPI:  "1234567890",
		ProviderName: "Sooner Home Care",
	}
	resp, err := client.CheckEligibility(context.Background(), req, testEncoder())
	require.NoError(t, err)

	assert.True(t, resp.Active)
	assert.Equal(t, "1234567890123", resp.MemberID)
	assert.Equal(t, "F", resp.Gender)
	require.NotNil(t, resp.PlanName)
	assert.Equal(t, "SOONERCARE", *resp.PlanName)

	require.Len(t, payer.received, 1)
	env := payer.received[0]
	assert.Equal(t, "homecare-rt", env.Header.Security.Token.Username)
	assert.Equal(t, "s3cret&<pw>", env.Header.Security.Token.Password.Value)
	assert.True(t, strings.HasSuffix(env.Header.Security.Token.Password.Type, "#PasswordText"))

	got := env.Body.Request
	assert.Equal(t, PayloadType270, got.PayloadType)
	assert.Equal(t, ProcessingModeRT, got.ProcessingMode)
	assert.Equal(t, "HOMECARE01", got.SenderID)
	assert.Equal(t, "OKMEDICAID", got.ReceiverID)
	assert.Equal(t, DefaultRuleVersion, got.CORERuleVersion)
	assert.Contains(t, got.Payload, "DMG*D8*20000101*F~")

	id, err := uuid.Parse(got.PayloadID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	ts, err := time.Parse(time.RFC3339, got.TimeStamp)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestCheckClaimStatus_MockPayer(t *testing.T) {
	payer, srv := newMockPayer(t)
	client, err := New(testConfig(srv.URL + "/RealTime"))
	require.NoError(t, err)

	svc := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := x12.ClaimStatusRequest{
		ClaimID:     "CLM-0001",
		MemberID:    "1234567890123",
		LastName:    "Doe",
		ProviderNPI: "1234567890",
		ServiceDate: &svc,
	}

	resp, err := client.CheckClaimStatus(context.Background(), req, testEncoder())
	require.NoError(t, err)
	assert.Equal(t, x12.ClaimStatusPaid, resp.StatusCode)
	require.NotNil(t, resp.PayerClaimControlNumber)
	assert.Equal(t, "PCN123", *resp.PayerClaimControlNumber)

	payer.mu.Lock()
	payer.status = "A1:1"
	payer.mu.Unlock()
	resp, err = client.CheckClaimStatus(context.Background(), req, testEncoder())
	require.NoError(t, err)
	assert.Equal(t, x12.ClaimStatusReceived, resp.StatusCode)
	assert.Equal(t, PayloadType276, payer.received[1].Body.Request.PayloadType)
}

func TestPayloadIDsAreTimeOrdered(t *testing.T) {
	a := newPayloadID()
	time.Sleep(2 * time.Millisecond)
	b := newPayloadID()
	assert.Less(t, a, b)
}

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	client, err := New(testConfig(testEndpoint),
		WithHTTPClient(&http.Client{Transport: mt}),
		WithRetryWait(time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)
	return client, mt
}

func TestExchange_RetriesTransientStatus(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			client, mt := newMockedClient(t)
			ok := payerEnvelope(PayloadType271, wrap271("EB*1"), "Success", "")
			mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.ResponderFromMultipleResponses([]*http.Response{
				httpmock.NewStringResponse(status, ""),
				httpmock.NewStringResponse(status, ""),
				httpmock.NewStringResponse(http.StatusOK, ok),
			}))

			payload, err := client.Exchange(context.Background(), PayloadType270, []byte("ISA"))
			require.NoError(t, err)
			assert.Contains(t, string(payload), "ST*271*")
			assert.Equal(t, 3, mt.GetTotalCallCount())
		})
	}
}

func TestExchange_GivesUpAfterThreeAttempts(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway"))

	_, err := client.Exchange(context.Background(), PayloadType276, []byte("ISA"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, PayloadType276, te.PayloadType)
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestExchange_RetriesConnectionErrors(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := client.Exchange(context.Background(), PayloadType270, []byte("ISA"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.Equal(t, 3, te.Attempts)
	assert.Contains(t, te.Error(), "connection refused")
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestExchange_DoesNotRetryPermanentStatus(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 501} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			client, mt := newMockedClient(t)
			mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(status, "nope"))

			_, err := client.Exchange(context.Background(), PayloadType270, []byte("ISA"))
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, status, te.StatusCode)
			assert.Equal(t, 1, te.Attempts)
			assert.Equal(t, 1, mt.GetTotalCallCount())
		})
	}
}

func TestExchange_OnlyInquiriesAreRetried(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	_, err := client.Exchange(context.Background(), "X12_837_Request_005010X222A1", []byte("ISA"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestExchange_PayerErrorCode(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusOK,
		payerEnvelope(PayloadType271, "", "ReceiverUnavailable", "payer system down for maintenance")))

	_, err := client.Exchange(context.Background(), PayloadType270, []byte("ISA"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "ReceiverUnavailable", te.Code)
	assert.Contains(t, te.Error(), "payer system down for maintenance")
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestExchange_MalformedEnvelope(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusOK, "<html>maintenance</html>"))

	_, err := client.Exchange(context.Background(), PayloadType270, []byte("ISA"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "malformed response envelope", te.Message)
}

func TestExchange_ContextCanceled(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Exchange(ctx, PayloadType270, []byte("ISA"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckEligibility_MalformedPayloadIsInactive(t *testing.T) {
	client, mt := newMockedClient(t)
	mt.RegisterResponder(http.MethodPost, testEndpoint, httpmock.NewStringResponder(http.StatusOK,
		payerEnvelope(PayloadType271, "not an interchange", "Success", "")))

	resp, err := client.CheckEligibility(context.Background(), x12.EligibilityRequest{
		MemberID:    "1234567890123",
		LastName:    "Doe",
		DateOfBirth: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		ProviderNPI: "1234567890",
	}, testEncoder())
	require.NoError(t, err)
	assert.False(t, resp.Active)
	require.NotNil(t, resp.RejectionReason)
	assert.True(t, strings.HasPrefix(*resp.RejectionReason, "parse error: "))
}

func TestCheckEligibility_EncodingErrorIsNotSent(t *testing.T) {
	client, mt := newMockedClient(t)
	_, err := client.CheckEligibility(context.Background(), x12.EligibilityRequest{LastName: "Doe"}, testEncoder())
	var ee *x12.EncodingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 0, mt.GetTotalCallCount())
}

func TestMarshalEnvelope(t *testing.T) {
	out, err := MarshalEnvelope(RealTimeRequest{
		PayloadType: PayloadType270,
		PayloadID:   "f0e1",
		TimeStamp:   time.Date(2024, 3, 15, 4, 30, 0, 0, time.FixedZone("CDT", -5*3600)),
		SenderID:    "HOMECARE01",
		ReceiverID:  "OKMEDICAID",
		Payload:     []byte("ISA*00*~ST*270*0001~"),
	}, "user", "pass")
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, "<soapenv:Envelope")
	assert.Contains(t, s, `xmlns:cor="http://www.caqh.org/SOAP/WSDL/CORERule2.2.0.xsd"`)
	assert.Contains(t, s, "<wsse:Username>user</wsse:Username>")
	assert.Contains(t, s, "<Payload><![CDATA[ISA*00*~ST*270*0001~]]></Payload>")
	assert.Contains(t, s, "<TimeStamp>2024-03-15T09:30:00Z</TimeStamp>")
	assert.Contains(t, s, "<ProcessingMode>RealTime</ProcessingMode>")
	assert.Contains(t, s, "<CORERuleVersion>2.2.0</CORERuleVersion>")
}

func TestUnmarshalEnvelope_Fault(t *testing.T) {
	fault := `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body><env:Fault>` +
		`<env:Code><env:Value>env:Sender</env:Value></env:Code>` +
		`<env:Reason><env:Text xml:lang="en">UsernameToken authentication failed</env:Text></env:Reason>` +
		`</env:Fault></env:Body></env:Envelope>`
	_, err := UnmarshalEnvelope([]byte(fault))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UsernameToken authentication failed")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Endpoint: "not a url"})
	require.Error(t, err)

	c, err := New(Config{Endpoint: testEndpoint})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
	assert.Equal(t, DefaultMaxAttempts-1, c.http.RetryMax)
	assert.Equal(t, DefaultRuleVersion, c.cfg.RuleVersion)
}
