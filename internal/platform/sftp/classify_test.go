package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const isa = "ISA*00*          *00*          *ZZ*OKMEDICAID     *ZZ*TP12345        *240315*0930*^*00501*000000001*0*P*:~"

func TestClassifyFile(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"remittance", "out_1.x12", isa + "GS*HP*A*B*20240315*0930*1*X*005010X221A1~ST*835*0001~", KindRemittance},
		{"acknowledgment", "out_2.x12", isa + "GS*FA*A*B*20240315*0930*1*X*005010X231A1~ST*999*0001~", KindAcknowledgment},
		{"claim ack", "out_3.x12", isa + "GS*HN*A*B*20240315*0930*1*X*005010X214~ST*277*0001~", KindClaimAck},
		{"claim status", "out_4.x12", isa + "GS*HN*A*B*20240315*0930*1*X*005010X212~ST*277*0001~", KindClaimStatus},
		{"interchange ack", "out_5.x12", isa + "TA1*000000001*240315*0930*A*000~IEA*0*000000001~", KindInterchangeAck},
		{"unparseable by name", "835_TP12345_20240315.x12", "garbage", KindRemittance},
		{"unknown", "readme.txt", "hello", KindUnknown},
		{"other transaction", "out_6.x12", isa + "GS*HB*A*B*20240315*0930*1*X*005010X279A1~ST*271*0001~", KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyFile(tc.file, []byte(tc.content)))
		})
	}
}
