package capture

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Homer payload types.
const (
	PayloadSIP = 1
	PayloadLog = 100
)

// Record is a single captured event: a SIP message or a HEP log line.
type Record struct {
	ID              int64  `json:"id"`
	CallID          string `json:"callid"`
	Method          string `json:"method"`
	PayloadType     int    `json:"payloadType"`
	Timestamp       int64  `json:"micro_ts"`
	SourceIP        string `json:"srcIp"`
	SourcePort      string `json:"srcPort"`
	DestinationIP   string `json:"dstIp"`
	DestinationPort string `json:"dstPort"`
	Raw             string `json:"raw"`
	CSeq            string `json:"cseq,omitempty"`
	ResponseCode    int    `json:"response_code,omitempty"`
	FromUser        string `json:"from_user,omitempty"`
	ToUser          string `json:"to_user,omitempty"`
	RuriUser        string `json:"ruri_user,omitempty"`
	RuriDomain      string `json:"ruri_domain,omitempty"`
}

// SourceAddr returns the "ip:port" key used by the transaction topology.
func (r Record) SourceAddr() string {
	return r.SourceIP + ":" + r.SourcePort
}

// DestinationAddr returns the "ip:port" key used by the transaction topology.
func (r Record) DestinationAddr() string {
	return r.DestinationIP + ":" + r.DestinationPort
}

// IsSIP reports whether the record carries a SIP message.
func (r Record) IsSIP() bool { return r.PayloadType == PayloadSIP }

// IsLog reports whether the record is an out-of-band log entry.
func (r Record) IsLog() bool { return r.PayloadType == PayloadLog }

// wireRecord mirrors the field spellings seen across Homer's search and
// transaction endpoints.
type wireRecord struct {
	ID             flexInt    `json:"id"`
	CallID         flexString `json:"callid"`
	CallIDAlt      flexString `json:"call_id"`
	Method         flexString `json:"method"`
	PayloadType    *flexInt   `json:"payloadType"`
	PayloadTypeAlt *flexInt   `json:"payload_type"`
	MicroTS        flexTime   `json:"micro_ts"`
	CreateDate     flexTime   `json:"create_date"`
	TimeSeconds    flexInt    `json:"timeSeconds"`
	SrcIP          flexString `json:"srcIp"`
	SourceIP       flexString `json:"source_ip"`
	SrcPort        flexString `json:"srcPort"`
	DstIP          flexString `json:"dstIp"`
	DestinationIP  flexString `json:"destination_ip"`
	DstPort        flexString `json:"dstPort"`
	Raw            flexString `json:"raw"`
	CSeq           flexString `json:"cseq"`
	ResponseCode   flexInt    `json:"response_code"`
	FromUser       flexString `json:"from_user"`
	Caller         flexString `json:"caller"`
	ToUser         flexString `json:"to_user"`
	Callee         flexString `json:"callee"`
	RuriUser       flexString `json:"ruri_user"`
	RuriDomain     flexString `json:"ruri_domain"`
}

// UnmarshalJSON decodes a Homer record. It never fails: a record that is not
// a JSON object decodes to the zero Record.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		*r = Record{PayloadType: PayloadSIP}
		return nil
	}

	payloadType := PayloadSIP
	switch {
	case w.PayloadType != nil:
		payloadType = int(*w.PayloadType)
	case w.PayloadTypeAlt != nil:
		payloadType = int(*w.PayloadTypeAlt)
	}

	// micro_ts is already milliseconds on the deployments we read from.
	ts := int64(w.MicroTS)
	if ts == 0 {
		ts = int64(w.CreateDate)
	}
	if ts == 0 && w.TimeSeconds > 0 {
		ts = int64(w.TimeSeconds) * 1000
	}

	*r = Record{
		ID:              int64(w.ID),
		CallID:          first(w.CallID, w.CallIDAlt),
		Method:          string(w.Method),
		PayloadType:     payloadType,
		Timestamp:       ts,
		SourceIP:        first(w.SrcIP, w.SourceIP),
		SourcePort:      string(w.SrcPort),
		DestinationIP:   first(w.DstIP, w.DestinationIP),
		DestinationPort: string(w.DstPort),
		Raw:             string(w.Raw),
		CSeq:            string(w.CSeq),
		ResponseCode:    int(w.ResponseCode),
		FromUser:        first(w.FromUser, w.Caller),
		ToUser:          first(w.ToUser, w.Callee),
		RuriUser:        string(w.RuriUser),
		RuriDomain:      string(w.RuriDomain),
	}
	return nil
}

func first(vals ...flexString) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// flexString accepts JSON strings, numbers and booleans. Anything else
// decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*f = ""
			return nil
		}
		*f = flexString(s)
	case b[0] == '{' || b[0] == '[':
		*f = ""
	default:
		*f = flexString(b)
	}
	return nil
}

// flexInt accepts integers, floats and numeric strings. Anything else
// decodes to 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = flexInt(parseInt(unquote(b)))
	return nil
}

// flexTime is a millisecond epoch that may arrive as a number, a numeric
// string or an RFC3339 timestamp.
type flexTime int64

func (f *flexTime) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	if v := parseInt(s); v != 0 {
		*f = flexTime(v)
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*f = flexTime(t.UnixMilli())
		return nil
	}
	*f = 0
	return nil
}

func unquote(b []byte) string {
	return strings.Trim(strings.TrimSpace(string(b)), `"`)
}

func parseInt(s string) int64 {
	if s == "" || s == "null" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(v)
	}
	return 0
}
