package correlator

import (
	"fmt"
	"sort"

	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/sipmsg"
)

// Kind distinguishes SIP rows from log rows in the flow timeline.
type Kind string

const (
	KindSIP Kind = "sip"
	KindLog Kind = "log"
)

const (
	previewLen  = 120
	logLabelLen = 80
)

// TimelineEntry is one row of the ladder diagram. Columns index into
// Detail.Columns; -1 means the endpoint is not in the call's topology.
type TimelineEntry struct {
	SourceColumn      int    `json:"src_col"`
	DestinationColumn int    `json:"dst_col"`
	Label             string `json:"label"`
	Kind              Kind   `json:"type"`
	OffsetMS          int64  `json:"offset_ms"`

	Method          string `json:"method"`
	MethodDisplay   string `json:"method_display,omitempty"`
	RawPreview      string `json:"raw_preview"`
	MessageIndex    int    `json:"msg_idx"`
	SourcePort      string `json:"src_port,omitempty"`
	DestinationPort string `json:"dst_port,omitempty"`
	FirstLine       string `json:"first_sip_line,omitempty"`
	TimeDisplay     string `json:"ts_display,omitempty"`
	IDLabel         string `json:"msg_id_str,omitempty"`
}

// Message is a SIP message as shown in the detail view. Its position in
// Detail.Messages is the TimelineEntry.MessageIndex that refers to it.
type Message struct {
	ID              int64  `json:"id"`
	OffsetMS        int64  `json:"offset_ms"`
	SourceAddr      string `json:"src_addr"`
	DestinationAddr string `json:"dst_addr"`
	Method          string `json:"method"`
	CSeq            string `json:"cseq"`
	UserAgent       string `json:"user_agent"`
	Raw             string `json:"raw"`
	Timestamp       int64  `json:"ts_ms"`
}

// Detail is the reconstructed view of a single call.
type Detail struct {
	Timeline          []TimelineEntry  `json:"flow_rows"`
	Columns           []string         `json:"flow_cols"`
	Messages          []Message        `json:"messages"`
	Session           SessionSummary   `json:"session"`
	Logs              []capture.Record `json:"logs"`
	MessageCount      int              `json:"total_messages"`
	EarliestTimestamp int64            `json:"first_ts_ms"`
}

// BuildDetail reconstructs the message flow of one call from its
// transaction. It does not modify tx and never fails: an empty or malformed
// transaction yields an empty timeline with an Unknown session.
func BuildDetail(tx capture.Transaction) Detail {
	ordered := make([]capture.Record, 0, len(tx.Messages))
	for _, r := range tx.Messages {
		if r.IsSIP() || r.IsLog() {
			ordered = append(ordered, r)
		}
	}
	sortByTimestamp(ordered)

	d := Detail{
		Timeline: []TimelineEntry{},
		Columns:  []string{},
		Messages: []Message{},
		Logs:     []capture.Record{},
	}
	if len(ordered) > 0 {
		d.EarliestTimestamp = ordered[0].Timestamp
		d.Columns = columns(tx.Topology)
	}

	var sip []capture.Record
	for _, r := range ordered {
		offset := r.Timestamp - d.EarliestTimestamp
		src := tx.Topology.Column(r.SourceAddr())
		dst := tx.Topology.Column(r.DestinationAddr())

		if r.IsLog() {
			col := dst
			if col < 0 {
				col = src
			}
			label := truncate(r.Raw, logLabelLen)
			if label == "" {
				label = "LOG"
			}
			d.Logs = append(d.Logs, r)
			d.Timeline = append(d.Timeline, TimelineEntry{
				SourceColumn:      col,
				DestinationColumn: col,
				Label:             label,
				Kind:              KindLog,
				OffsetMS:          offset,
				RawPreview:        truncate(r.Raw, previewLen),
				MessageIndex:      -1,
			})
			continue
		}

		label := r.Method
		if label == "" {
			label = r.CSeq
		}
		display := r.Method
		if r.Method != "" && sipmsg.HasSDP(r.Raw) {
			display = r.Method + " (SDP)"
		}
		var idLabel string
		if r.ID != 0 {
			idLabel = fmt.Sprintf("[%d]", r.ID)
		}

		d.Timeline = append(d.Timeline, TimelineEntry{
			SourceColumn:      src,
			DestinationColumn: dst,
			Label:             label,
			Kind:              KindSIP,
			OffsetMS:          offset,
			Method:            r.Method,
			MethodDisplay:     display,
			RawPreview:        truncate(r.Raw, previewLen),
			MessageIndex:      len(d.Messages),
			SourcePort:        r.SourcePort,
			DestinationPort:   r.DestinationPort,
			FirstLine:         truncate(sipmsg.FirstLine(r.Raw), previewLen),
			TimeDisplay:       formatTimestamp(r.Timestamp),
			IDLabel:           idLabel,
		})
		d.Messages = append(d.Messages, Message{
			ID:              r.ID,
			OffsetMS:        offset,
			SourceAddr:      r.SourceAddr(),
			DestinationAddr: r.DestinationAddr(),
			Method:          r.Method,
			CSeq:            r.CSeq,
			UserAgent:       sipmsg.UserAgent(r.Raw),
			Raw:             r.Raw,
			Timestamp:       r.Timestamp,
		})
		sip = append(sip, r)
	}

	d.MessageCount = len(d.Messages)
	d.Session = deriveSession(sip, tx.Messages)
	return d
}

// columns lays out the diagram columns: one slot per position up to the
// highest mapped one, labelled with the endpoint's alias.
func columns(topo capture.Topology) []string {
	hosts := make([]string, 0, len(topo.Positions))
	size := 0
	for host := range topo.Positions {
		pos := topo.Column(host)
		if pos < 0 {
			continue
		}
		hosts = append(hosts, host)
		if pos+1 > size {
			size = pos + 1
		}
	}
	sort.Strings(hosts)

	// Endpoints sharing a position: the first host in sort order names it.
	cols := make([]string, size)
	for _, host := range hosts {
		pos := topo.Column(host)
		if cols[pos] == "" {
			cols[pos] = topo.Alias(host)
		}
	}
	return cols
}
