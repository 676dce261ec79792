package correlator

import (
	"sort"

	"github.com/sweeney/homer-callflow/internal/capture"
)

// CallSummary is one row of the call list.
type CallSummary struct {
	CallID            string   `json:"call_id"`
	FromUser          string   `json:"from_user"`
	ToUser            string   `json:"to_user"`
	SourceIP          string   `json:"source_ip"`
	DestinationIP     string   `json:"destination_ip"`
	Methods           []string `json:"methods"`
	Status            Status   `json:"status"`
	EarliestTimestamp int64    `json:"earliest_timestamp_ms"`
	Duration          string   `json:"duration"`
	DurationMS        int64    `json:"duration_ms"`
	RepresentativeID  int64    `json:"id"`
}

// Group partitions search records by call id and summarizes each call,
// newest first. Records without a call id form their own group.
func Group(records []capture.Record) []CallSummary {
	var order []string
	parts := make(map[string][]capture.Record)
	for _, r := range records {
		if _, seen := parts[r.CallID]; !seen {
			order = append(order, r.CallID)
		}
		parts[r.CallID] = append(parts[r.CallID], r)
	}

	out := make([]CallSummary, 0, len(order))
	for _, id := range order {
		out = append(out, summarize(id, parts[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EarliestTimestamp > out[j].EarliestTimestamp
	})
	return out
}

// SummarizeCall builds the single list row for a call from its full
// transaction, for call-id lookups that skip the capped search. It reports
// false when the transaction holds no SIP messages.
func SummarizeCall(callID string, tx capture.Transaction) (CallSummary, bool) {
	var msgs []capture.Record
	for _, r := range tx.Messages {
		if r.IsSIP() {
			msgs = append(msgs, r)
		}
	}
	if len(msgs) == 0 {
		return CallSummary{}, false
	}
	sortByTimestamp(msgs)
	return summarize(callID, msgs), true
}

func summarize(callID string, recs []capture.Record) CallSummary {
	invite := recs[0]
	for _, r := range recs {
		if r.Method == "INVITE" {
			invite = r
			break
		}
	}

	seen := make(map[string]bool)
	methods := []string{}
	for _, r := range recs {
		if r.Method != "" && !seen[r.Method] {
			seen[r.Method] = true
			methods = append(methods, r.Method)
		}
	}
	sort.Strings(methods)

	var minTS, maxTS int64
	stamped := 0
	for _, r := range recs {
		if r.Timestamp == 0 {
			continue
		}
		if stamped == 0 || r.Timestamp < minTS {
			minTS = r.Timestamp
		}
		if r.Timestamp > maxTS {
			maxTS = r.Timestamp
		}
		stamped++
	}
	var durationMS int64
	if stamped >= 2 {
		durationMS = maxTS - minTS
	}

	anchor := recs[0]
	for _, r := range recs[1:] {
		if r.ID < anchor.ID {
			anchor = r
		}
	}

	return CallSummary{
		CallID:            callID,
		FromUser:          invite.FromUser,
		ToUser:            invite.ToUser,
		SourceIP:          invite.SourceIP,
		DestinationIP:     invite.DestinationIP,
		Methods:           methods,
		Status:            Collect(recs).Status(),
		EarliestTimestamp: minTS,
		Duration:          FormatDuration(durationMS),
		DurationMS:        durationMS,
		RepresentativeID:  anchor.ID,
	}
}

// sortByTimestamp orders records by capture time, keeping input order for
// equal timestamps.
func sortByTimestamp(recs []capture.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp < recs[j].Timestamp
	})
}
