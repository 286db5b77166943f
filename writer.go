package netconf

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// writeHello encodes a hello envelope to w. Both dialects of the framing
// (V1.0 end-of-message and V1.1 chunked) use end-of-message framing for the
// hello exchange itself -- chunking only begins once a base:1.1 capability
// has actually been negotiated by both ends -- so writeHello never needs to
// know which dialect the rest of the session will use.
func writeHello(w io.Writer, msg *HelloMsg) error {
	return xml.NewEncoder(w).Encode(msg)
}

// writeRPC encodes a client request envelope to w. msg.MessageID must
// already be set; Session.Do is responsible for allocating it.
func writeRPC(w io.Writer, rpc *RPC) error {
	return xml.NewEncoder(w).Encode(rpc)
}

// ReplyBody is the inner content of a rpc-reply envelope, produced by one
// of OKReply, DataReply or ErrorReply.
type ReplyBody interface {
	writeInner(w io.Writer) error
}

type okReplyBody struct{}

func (okReplyBody) writeInner(w io.Writer) error {
	_, err := io.WriteString(w, "<ok/>")
	return err
}

// OKReply is the body of a rpc-reply carrying nothing but <ok/>, the
// response to a successful operation that returns no data (e.g.
// edit-config, commit).
func OKReply() ReplyBody { return okReplyBody{} }

type dataReplyOpts struct {
	defaultsMode string
}

// ReplyOption configures a reply body built with DataReply.
type ReplyOption func(*dataReplyOpts)

// WithDefaultsMode records the with-defaults reporting mode (RFC6243) on the
// reply body. The mode is stored only: DataReply's output is data encoded
// as-is, with no attribute or element carrying the mode.
func WithDefaultsMode(mode string) ReplyOption {
	return func(o *dataReplyOpts) { o.defaultsMode = mode }
}

type dataReplyBody struct {
	data any
	opts dataReplyOpts
}

func (d dataReplyBody) writeInner(w io.Writer) error {
	enc := xml.NewEncoder(w)
	if err := enc.Encode(d.data); err != nil {
		return err
	}
	return enc.Flush()
}

// DataReply is the body of a rpc-reply wrapping an operation's returned
// data (e.g. the contents of a get or get-config).
func DataReply(data any, opts ...ReplyOption) ReplyBody {
	var o dataReplyOpts
	for _, opt := range opts {
		opt(&o)
	}
	return dataReplyBody{data: data, opts: o}
}

type errorReplyBody struct {
	errs RPCErrors
}

func (e errorReplyBody) writeInner(w io.Writer) error {
	enc := xml.NewEncoder(w)
	for _, rerr := range e.errs {
		if err := enc.EncodeElement(rerr, xml.StartElement{Name: xml.Name{Local: "rpc-error"}}); err != nil {
			return err
		}
	}
	return enc.Flush()
}

// ErrorReply is the body of a rpc-reply carrying one or more rpc-error
// elements.
func ErrorReply(errs ...RPCError) ReplyBody {
	return errorReplyBody{errs: errs}
}

// writeReply encodes a server-originated rpc-reply envelope to w. attrs are
// reflected verbatim from the originating rpc per RFC6241 sec 7.3. msgID is
// always the sole source of the message-id attribute; a "message-id" attr
// in attrs (as Response.Attributes carries, since it is the originating
// <rpc>'s attribute list verbatim) is skipped rather than emitted a second
// time.
func writeReply(w io.Writer, msgID string, attrs []xml.Attr, body ReplyBody) error {
	if _, err := fmt.Fprintf(w, `<rpc-reply xmlns=%q message-id=%q`, NetconfNamespace, msgID); err != nil {
		return err
	}
	for _, a := range attrs {
		if a.Name.Local == "message-id" {
			continue
		}
		if _, err := fmt.Fprintf(w, ` %s="`, a.Name.Local); err != nil {
			return err
		}
		if _, err := newEscapeWriter(w).Write([]byte(a.Value)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `"`); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, ">"); err != nil {
		return err
	}
	if err := body.writeInner(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</rpc-reply>")
	return err
}

// writeMalformedReply writes a rpc-reply carrying a single
// malformed-message rpc-error, the fixed response RFC6241 sec 4.3 requires
// a server make to a request it cannot even parse enough to discover a
// message-id for. Since there may be no message-id to reflect, one is not
// included.
func writeMalformedReply(w io.Writer, detail string) error {
	if _, err := io.WriteString(w, `<rpc-reply xmlns="`+NetconfNamespace+`">`); err != nil {
		return err
	}
	rerr := RPCError{
		Type:     ErrTypeRPC,
		Tag:      ErrMalformedMessage,
		Severity: SevError,
		Message:  detail,
	}
	enc := xml.NewEncoder(w)
	if err := enc.EncodeElement(rerr, xml.StartElement{Name: xml.Name{Local: "rpc-error"}}); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</rpc-reply>")
	return err
}

// writeNotif encodes a notification envelope to w. event is marshaled
// as-is as the notification's event-specific content.
//
// The closing tag is the full, correctly-spelled "</notification>" -- an
// earlier C implementation this package's design was informed by emitted a
// truncated 12-byte closing tag here, silently producing malformed XML on
// every notification. There is no shortcut available for this string; it
// is written out in full.
func writeNotif(w io.Writer, eventTime time.Time, event any) error {
	if _, err := fmt.Fprintf(w, `<notification xmlns=%q><eventTime>%s</eventTime>`,
		NotificationNamespace, eventTime.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}

	if event != nil {
		enc := xml.NewEncoder(w)
		if err := enc.Encode(event); err != nil {
			return err
		}
		if err := enc.Flush(); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "</notification>")
	return err
}
