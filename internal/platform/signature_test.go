package platform

import "testing"

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"object":"instagram","entry":[]}`)
	secret := "webhook-secret"

	header := SignPayload(payload, secret)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		want    bool
	}{
		{"valid", payload, header, secret, true},
		{"wrong_secret", payload, header, "other-secret", false},
		{"tampered_payload", []byte(`{"object":"x"}`), header, secret, false},
		{"missing_header", payload, "", secret, false},
		{"missing_prefix", payload, header[len("sha256="):], secret, false},
		{"bad_hex", payload, "sha256=nothex", secret, false},
		{"empty_secret", payload, header, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.payload, tt.header, tt.secret); got != tt.want {
				t.Fatalf("VerifySignature = %v, want %v", got, tt.want)
			}
		})
	}
}
