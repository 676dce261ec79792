package capture_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sweeney/homer-callflow/internal/capture"
)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

func loadTransaction(t *testing.T, name string) capture.Transaction {
	t.Helper()
	tx, err := capture.LoadTransaction(filepath.Join(fixturesDir(), name))
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return tx
}

func TestDecodeAnsweredTransaction(t *testing.T) {
	tx := loadTransaction(t, "answered-call.json")

	if len(tx.Messages) != 11 {
		t.Fatalf("expected 11 messages, got %d", len(tx.Messages))
	}

	var invite capture.Record
	for _, m := range tx.Messages {
		if m.ID == 101 {
			invite = m
		}
	}
	if invite.Method != "INVITE" {
		t.Errorf("expected method=INVITE, got %q", invite.Method)
	}
	if invite.CallID != "a84b4c76e66710@pc33.example.com" {
		t.Errorf("unexpected call id %q", invite.CallID)
	}
	if invite.Timestamp != 1760000000000 {
		t.Errorf("expected timestamp=1760000000000, got %d", invite.Timestamp)
	}
	if invite.SourceAddr() != "10.0.0.10:5060" {
		t.Errorf("expected numeric port to decode into address, got %q", invite.SourceAddr())
	}
	if invite.DestinationAddr() != "10.0.0.1:5060" {
		t.Errorf("unexpected destination %q", invite.DestinationAddr())
	}
	if invite.FromUser != "alice" || invite.ToUser != "bob" {
		t.Errorf("unexpected parties %q -> %q", invite.FromUser, invite.ToUser)
	}
	if invite.RuriUser != "bob" || invite.RuriDomain != "example.com" {
		t.Errorf("unexpected ruri %q@%q", invite.RuriUser, invite.RuriDomain)
	}
	if !invite.IsSIP() {
		t.Error("expected INVITE to be a SIP record")
	}

	logs := 0
	for _, m := range tx.Messages {
		if m.IsLog() {
			logs++
		}
	}
	if logs != 1 {
		t.Errorf("expected 1 log record, got %d", logs)
	}

	if tx.Topology.Column("10.0.0.20:5060") != 2 {
		t.Errorf("expected column 2, got %d", tx.Topology.Column("10.0.0.20:5060"))
	}
	if tx.Topology.Column("192.0.2.1:5060") != -1 {
		t.Error("expected unmapped endpoint to resolve to -1")
	}
	if tx.Topology.Alias("10.0.0.10:5060") != "alice-phone" {
		t.Errorf("unexpected alias %q", tx.Topology.Alias("10.0.0.10:5060"))
	}
	if tx.Topology.Alias("10.0.0.20:5060") != "10.0.0.20:5060" {
		t.Errorf("expected alias fallback to endpoint, got %q", tx.Topology.Alias("10.0.0.20:5060"))
	}
}

func TestDecodeBareHostPositions(t *testing.T) {
	tx := loadTransaction(t, "cancelled-call.json")
	if tx.Topology.Column("10.0.0.30:5062") != 0 || tx.Topology.Column("10.0.0.1:5060") != 1 {
		t.Errorf("unexpected positions %v", tx.Topology.Positions)
	}
}

func TestColumnIgnoresOutOfRangePositions(t *testing.T) {
	topo := capture.Topology{Positions: map[string]int{
		"10.0.0.1:5060": -1,
		"10.0.0.2:5060": capture.MaxColumns,
		"10.0.0.3:5060": capture.MaxColumns - 1,
	}}
	if topo.Column("10.0.0.1:5060") != -1 || topo.Column("10.0.0.2:5060") != -1 {
		t.Errorf("expected out-of-range positions unmapped, got %v", topo.Positions)
	}
	if got := topo.Column("10.0.0.3:5060"); got != capture.MaxColumns-1 {
		t.Errorf("expected column %d, got %d", capture.MaxColumns-1, got)
	}
}

func TestGzipFixtureMatchesPlain(t *testing.T) {
	plain, err := capture.ReadFile(filepath.Join(fixturesDir(), "answered-call.json"))
	if err != nil {
		t.Fatal(err)
	}
	gz, err := capture.ReadFile(filepath.Join(fixturesDir(), "answered-call.json.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, gz) {
		t.Error("expected gzip fixture to decompress to the plain fixture")
	}
}

func TestWriteFileRoundTripsGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.json.gz")
	body := []byte(`{"data":{"messages":[]}}`)
	if err := capture.WriteFile(path, body); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := capture.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("expected %s, got %s", body, got)
	}
}

func TestDecodeTransactionKeepsRawBody(t *testing.T) {
	body := []byte(`{"data":{"messages":[{"id":1,"method":"INVITE"}]}}`)
	tx, err := capture.DecodeTransaction(body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tx.Raw, body) {
		t.Error("expected raw body to be preserved")
	}
}

func TestDecodeTransactionEmptyAndMalformed(t *testing.T) {
	cases := map[string]string{
		"empty messages": `{"data":{"messages":[]}}`,
		"null data":      `{"data":null}`,
		"missing data":   `{"status":200}`,
		"data is a list": `{"data":[1,2,3]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			tx, err := capture.DecodeTransaction([]byte(body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(tx.Messages) != 0 {
				t.Errorf("expected no messages, got %d", len(tx.Messages))
			}
		})
	}

	if _, err := capture.DecodeTransaction([]byte(`<html>bad gateway</html>`)); err == nil {
		t.Error("expected error for non-JSON body")
	}
}

func TestRecordFieldReconciliation(t *testing.T) {
	body := []byte(`{"data":{"messages":[
		{"call_id":"x1","method":"BYE","payload_type":"1","create_date":"2025-10-09T08:53:20.250Z","source_ip":"192.0.2.1","srcPort":"5060","destination_ip":"192.0.2.2","dstPort":5080,"caller":"101","callee":"102","id":"7"},
		{"callid":"x1","timeSeconds":1760000001,"payloadType":100,"raw":"log line"},
		{"callid":"x1","micro_ts":1.7600000025e12,"create_date":1,"method":null,"payloadType":null},
		"not an object"
	]}}`)

	tx, err := capture.DecodeTransaction(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Messages) != 4 {
		t.Fatalf("expected 4 records, got %d", len(tx.Messages))
	}

	r := tx.Messages[0]
	if r.CallID != "x1" || r.Method != "BYE" || r.PayloadType != capture.PayloadSIP {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Timestamp != 1760000000250 {
		t.Errorf("expected RFC3339 create_date to become ms, got %d", r.Timestamp)
	}
	if r.SourceAddr() != "192.0.2.1:5060" || r.DestinationAddr() != "192.0.2.2:5080" {
		t.Errorf("unexpected addresses %s -> %s", r.SourceAddr(), r.DestinationAddr())
	}
	if r.FromUser != "101" || r.ToUser != "102" || r.ID != 7 {
		t.Errorf("unexpected party fields %+v", r)
	}

	if tx.Messages[1].Timestamp != 1760000001000 || !tx.Messages[1].IsLog() {
		t.Errorf("expected timeSeconds fallback, got %+v", tx.Messages[1])
	}

	if tx.Messages[2].Timestamp != 1760000002500 {
		t.Errorf("expected micro_ts to win over create_date, got %d", tx.Messages[2].Timestamp)
	}
	if tx.Messages[2].PayloadType != capture.PayloadSIP || tx.Messages[2].Method != "" {
		t.Errorf("expected null fields to fall back to defaults, got %+v", tx.Messages[2])
	}

	if tx.Messages[3].CallID != "" || tx.Messages[3].Timestamp != 0 {
		t.Errorf("expected zero record for non-object entry, got %+v", tx.Messages[3])
	}
}

func TestDecodeSearchList(t *testing.T) {
	records, err := capture.LoadSearch(filepath.Join(fixturesDir(), "search.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 9 {
		t.Fatalf("expected 9 records, got %d", len(records))
	}
	last := records[8]
	if last.CallID != "trying-only-77@10.0.0.40" {
		t.Errorf("unexpected call id %q", last.CallID)
	}
	if last.Timestamp != 1760000030000 {
		t.Errorf("expected string create_date to decode, got %d", last.Timestamp)
	}
}

func TestDecodeSearchGroupedEnvelope(t *testing.T) {
	body := []byte(`{"results":{"b":[{"callid":"2"}],"a":[{"callid":"1"},{"callid":"1"}]}}`)
	records, err := capture.DecodeSearch(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].CallID != "1" || records[2].CallID != "2" {
		t.Errorf("expected groups in key order, got %q %q", records[0].CallID, records[2].CallID)
	}
}

func TestDecodeSearchEmpty(t *testing.T) {
	for _, body := range []string{`{}`, `{"data":[]}`, `{"data":null,"results":[]}`} {
		records, err := capture.DecodeSearch([]byte(body))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", body, err)
		}
		if len(records) != 0 {
			t.Errorf("%s: expected no records, got %d", body, len(records))
		}
	}
	if _, err := capture.DecodeSearch([]byte(`oops`)); err == nil {
		t.Error("expected error for invalid body")
	}
}
