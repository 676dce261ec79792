package capture

import (
	"bytes"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// Topology maps transport endpoints ("ip:port") to flow diagram columns and
// display aliases for one call.
type Topology struct {
	Positions map[string]int    `json:"hosts"`
	Aliases   map[string]string `json:"alias"`
}

// MaxColumns bounds the flow diagram width. Positions outside [0, MaxColumns)
// are treated as unmapped.
const MaxColumns = 1024

// Column returns the diagram column for addr, or -1 when it is unmapped.
func (t Topology) Column(addr string) int {
	if pos, ok := t.Positions[addr]; ok && pos >= 0 && pos < MaxColumns {
		return pos
	}
	return -1
}

// Alias returns the display name for addr, falling back to addr itself.
func (t Topology) Alias(addr string) string {
	if a := t.Aliases[addr]; a != "" {
		return a
	}
	return addr
}

// Transaction is the decoded response of Homer's call transaction endpoint.
type Transaction struct {
	Messages []Record
	Topology Topology

	// Raw is the undecoded response body, kept for export.
	Raw []byte
}

type wireTransaction struct {
	Data json.RawMessage `json:"data"`
}

type wireTransactionData struct {
	Messages []Record               `json:"messages"`
	Hosts    map[string]hostPosition `json:"hosts"`
	Alias    map[string]flexString   `json:"alias"`
}

// hostPosition is either {"host": [...], "position": N} or a bare N.
type hostPosition int

func (h *hostPosition) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			Position flexInt `json:"position"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			*h = -1
			return nil
		}
		*h = hostPosition(obj.Position)
		return nil
	}
	var v flexInt
	_ = v.UnmarshalJSON(b)
	*h = hostPosition(v)
	return nil
}

// DecodeTransaction decodes a transaction response body. Only a body that is
// not a JSON object is an error; a missing or malformed "data" member yields
// an empty transaction.
func DecodeTransaction(body []byte) (Transaction, error) {
	tx := Transaction{Raw: body}

	var w wireTransaction
	if err := json.Unmarshal(body, &w); err != nil {
		return tx, fmt.Errorf("decoding transaction: %w", err)
	}

	var data wireTransactionData
	if len(w.Data) == 0 || json.Unmarshal(w.Data, &data) != nil {
		return tx, nil
	}

	tx.Messages = data.Messages
	if len(data.Hosts) > 0 {
		tx.Topology.Positions = make(map[string]int, len(data.Hosts))
		for host, pos := range data.Hosts {
			tx.Topology.Positions[host] = int(pos)
		}
	}
	if len(data.Alias) > 0 {
		tx.Topology.Aliases = make(map[string]string, len(data.Alias))
		for host, alias := range data.Alias {
			tx.Topology.Aliases[host] = string(alias)
		}
	}
	return tx, nil
}

// DecodeSearch unwraps Homer's search envelope. The records live under
// "data" (or "results"), either as a list or as an object of lists; object
// members are read in key order.
func DecodeSearch(body []byte) ([]Record, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	inner := env["data"]
	if isEmpty(inner) {
		inner = env["results"]
	}
	if isEmpty(inner) {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(inner, &records); err == nil {
		return records, nil
	}

	var groups map[string]json.RawMessage
	if err := json.Unmarshal(inner, &groups); err != nil {
		return nil, nil
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var part []Record
		if err := json.Unmarshal(groups[k], &part); err != nil {
			continue
		}
		records = append(records, part...)
	}
	return records, nil
}

func isEmpty(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) ||
		bytes.Equal(raw, []byte("[]")) || bytes.Equal(raw, []byte("{}"))
}
