package netconf

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHello(t *testing.T) {
	var buf bytes.Buffer
	msg := &HelloMsg{
		SessionID:    42,
		Capabilities: []string{CapNetConf10},
	}
	require.NoError(t, writeHello(&buf, msg))

	var got HelloMsg
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, uint64(42), got.SessionID)
	assert.Equal(t, []string{CapNetConf10}, got.Capabilities)
}

func TestWriteReply_OK(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReply(&buf, "101", nil, OKReply()))
	assert.Equal(t,
		`<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="101"><ok/></rpc-reply>`,
		buf.String(),
	)
}

func TestWriteReply_Data(t *testing.T) {
	var buf bytes.Buffer
	type payload struct {
		XMLName xml.Name `xml:"data"`
		Value   string   `xml:"value"`
	}
	require.NoError(t, writeReply(&buf, "102", nil, DataReply(&payload{Value: "ok"})))
	assert.Contains(t, buf.String(), `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="102">`)
	assert.Contains(t, buf.String(), `<data><value>ok</value></data>`)
	assert.Contains(t, buf.String(), `</rpc-reply>`)
}

func TestWriteReply_Error(t *testing.T) {
	var buf bytes.Buffer
	rerr := RPCError{
		Type:     ErrTypeApp,
		Tag:      ErrInvalidValue,
		Severity: SevError,
		Message:  "bad value",
	}
	require.NoError(t, writeReply(&buf, "103", nil, ErrorReply(rerr)))

	var reply RPCReply
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &reply))
	require.Len(t, reply.RPCErrors, 1)
	assert.Equal(t, ErrInvalidValue, reply.RPCErrors[0].Tag)
	assert.Equal(t, "bad value", reply.RPCErrors[0].Message)
}

func TestWriteReply_EscapesReflectedAttributes(t *testing.T) {
	var buf bytes.Buffer
	attrs := []xml.Attr{{Name: xml.Name{Local: "custom"}, Value: `a & b < "c"`}}
	require.NoError(t, writeReply(&buf, "104", attrs, OKReply()))
	assert.Contains(t, buf.String(), `custom="a &amp; b &lt; &quot;c&quot;"`)
}

func TestWriteMalformedReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMalformedReply(&buf, "could not parse message"))

	var reply RPCReply
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &reply))
	require.Len(t, reply.RPCErrors, 1)
	assert.Equal(t, ErrMalformedMessage, reply.RPCErrors[0].Tag)
}

func TestWriteNotif(t *testing.T) {
	var buf bytes.Buffer
	type event struct {
		XMLName xml.Name `xml:"link-down"`
		IfName  string   `xml:"if-name"`
	}

	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, writeNotif(&buf, ts, &event{IfName: "eth0"}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, `<notification xmlns="urn:ietf:params:xml:ns:netconf:notification:1.0">`))
	assert.True(t, strings.HasSuffix(out, `</notification>`))
	assert.Contains(t, out, `<eventTime>2026-07-31T12:00:00Z</eventTime>`)
	assert.Contains(t, out, `<link-down><if-name>eth0</if-name></link-down>`)
}
