package idempotency

import "testing"

func TestHashKey_IsSHA256Hex(t *testing.T) {
	// sha256("K1")
	const want = "badb7283766a112aebdb2936077a25f5db85ea465cdbac330ba6641d38c4ac77"
	if got := HashKey("K1"); got != want {
		t.Fatalf("HashKey(K1)=%s want %s", got, want)
	}
	if HashKey("K1") == HashKey("K2") {
		t.Fatalf("different keys must hash differently")
	}
}

func TestHashBody_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := []byte(`{"items":[{"sku":"A","qty":1}],"customer_id":"c1"}`)
	b := []byte(" {\n  \"customer_id\": \"c1\",\n  \"items\": [ {\"qty\": 1, \"sku\": \"A\"} ]\n}\n")
	if HashBody(a) != HashBody(b) {
		t.Fatalf("expected equal hashes for equivalent documents")
	}
}

func TestHashBody_DetectsDifferentBodies(t *testing.T) {
	a := []byte(`{"items":[{"sku":"A","qty":1}]}`)
	b := []byte(`{"items":[{"sku":"B","qty":1}]}`)
	if HashBody(a) == HashBody(b) {
		t.Fatalf("expected different hashes")
	}
}

func TestCanonicalize_PreservesNumberLiterals(t *testing.T) {
	got := string(Canonicalize([]byte(`{"b": 1.50, "a": 10000000000000000001}`)))
	want := `{"a":10000000000000000001,"b":1.50}`
	if got != want {
		t.Fatalf("canonical form mismatch: got %s want %s", got, want)
	}
}

func TestCanonicalize_NonJSONPassesThrough(t *testing.T) {
	got := string(Canonicalize([]byte("  not json  ")))
	if got != "not json" {
		t.Fatalf("expected trimmed raw body, got %q", got)
	}
	if string(Canonicalize([]byte(`{"a":1} trailing`))) != `{"a":1} trailing` {
		t.Fatalf("trailing data must not be canonicalized")
	}
}
