package rowcodec

import "testing"

func TestEncodeDecode_RoundTrips(t *testing.T) {
	row := Row{"id": float64(1), "email": "alice@example.com"}
	data, err := Encode(row)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got["email"] != "alice@example.com" {
		t.Fatalf("expected email to round-trip, got %+v", got)
	}
}

func TestDecode_RejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected an error decoding malformed input")
	}
}
