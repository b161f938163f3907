package external

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

func TestStripeVerifier_ValidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","type":"payment_intent.succeeded"}`)

	// Generate a valid signature using stripe-go's helper.
	sp := stripe.GenerateTestSignedPayload(&stripe.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})

	err := verifier.Verify(payload, sp.Header, secret)
	if err != nil {
		t.Errorf("expected valid signature, got error: %v", err)
	}
}

func TestStripeVerifier_InvalidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_test"}`)
	header := "t=1234567890,v1=badbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbad"

	err := verifier.Verify(payload, header, "whsec_test_secret")
	if err == nil {
		t.Error("expected error for invalid signature, got nil")
	}
}

func TestStripeVerifier_MissingHeader(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_test"}`)

	err := verifier.Verify(payload, "", "whsec_test_secret")
	if err == nil {
		t.Error("expected error for missing signature header, got nil")
	}
}

func TestStripeVerifier_ExpiredTimestamp(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test"}`)

	// Generate a signature with a very old timestamp.
	oldTime := time.Now().Add(-10 * time.Minute)
	sig := stripe.ComputeSignature(oldTime, payload, secret)
	header := fmt.Sprintf("t=%d,v1=%s", oldTime.Unix(), hex.EncodeToString(sig))

	err := verifier.Verify(payload, header, secret)
	if err == nil {
		t.Error("expected error for expired timestamp, got nil")
	}
}

func TestStripeVerifier_TamperedPayload(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","type":"payment_intent.succeeded"}`)

	sp := stripe.GenerateTestSignedPayload(&stripe.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})

	tampered := []byte(`{"id":"evt_test","type":"payment_intent.payment_failed"}`)
	err := verifier.Verify(tampered, sp.Header, secret)
	if err == nil {
		t.Error("expected error for tampered payload, got nil")
	}
}
