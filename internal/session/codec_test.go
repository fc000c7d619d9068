package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/thejerf/abtime"

	"atms/identity/internal/model"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func mustCodec(t *testing.T, clock abtime.AbstractTime) *Codec {
	t.Helper()
	codec, err := NewCodec(testSecret, 24*time.Hour, clock)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	return codec
}

func samplePayload(now time.Time) Payload {
	return Payload{
		UserID:        "7b0b8a8e-0d8f-4f3e-9d36-5a7f3c1e2b10",
		Role:          "university",
		WalletAddress: "0xabcdef0123456789abcdef0123456789abcdef01",
		Details: model.AccountDetails{
			InstitutionName: "University of Lagos",
			Domain:          "unilag.edu.ng",
			Permissions:     []string{"read", "write", "delete", "share", "revoke"},
		},
		IssuedAt: now.UTC().Truncate(time.Second),
	}
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewCodec([]byte("short"), time.Hour, nil); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
	if _, err := NewCodec(testSecret[:31], time.Hour, nil); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort for 31 bytes, got %v", err)
	}
}

func TestSealRoundTrip(t *testing.T) {
	clock := abtime.NewManual()
	codec := mustCodec(t, clock)
	payload := samplePayload(clock.Now())

	token, err := codec.Seal(payload)
	if err != nil {
		t.Fatalf("seal error: %v", err)
	}
	got, err := codec.Unseal(token)
	if err != nil {
		t.Fatalf("unseal error: %v", err)
	}
	if diff := deep.Equal(payload, got); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}

func TestSealRoundTripKeepsEmptyPermissions(t *testing.T) {
	clock := abtime.NewManual()
	codec := mustCodec(t, clock)
	for _, perms := range [][]string{{}, nil} {
		payload := samplePayload(clock.Now())
		payload.Details.Permissions = perms

		token, err := codec.Seal(payload)
		if err != nil {
			t.Fatalf("seal error: %v", err)
		}
		got, err := codec.Unseal(token)
		if err != nil {
			t.Fatalf("unseal error: %v", err)
		}
		if diff := deep.Equal(payload, got); diff != nil {
			t.Fatalf("round trip mismatch for %#v: %v", perms, diff)
		}
	}
}

func TestSealStampsIssuedAt(t *testing.T) {
	clock := abtime.NewManual()
	codec := mustCodec(t, clock)
	payload := samplePayload(clock.Now())
	payload.IssuedAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := codec.Seal(payload)
	if err != nil {
		t.Fatalf("seal error: %v", err)
	}
	got, err := codec.Unseal(token)
	if err != nil {
		t.Fatalf("unseal error: %v", err)
	}
	if !got.IssuedAt.Equal(clock.Now().UTC().Truncate(time.Second)) {
		t.Fatalf("expected issued at %s, got %s", clock.Now(), got.IssuedAt)
	}
}

func TestSealIgnoresStaleIssuedAt(t *testing.T) {
	clock := abtime.NewManual()
	codec := mustCodec(t, clock)
	payload := samplePayload(clock.Now().Add(-48 * time.Hour))

	token, err := codec.Seal(payload)
	if err != nil {
		t.Fatalf("seal error: %v", err)
	}
	if _, err := codec.Unseal(token); err != nil {
		t.Fatalf("fresh token should unseal, got %v", err)
	}
}

func TestSealIsNotDeterministic(t *testing.T) {
	codec := mustCodec(t, abtime.NewManual())
	payload := samplePayload(time.Now())
	a, _ := codec.Seal(payload)
	b, _ := codec.Seal(payload)
	if a == b {
		t.Fatalf("expected distinct tokens for repeated seals")
	}
	if strings.Contains(a, payload.WalletAddress) {
		t.Fatalf("token leaks payload")
	}
}

func TestUnsealRejectsEveryByteFlip(t *testing.T) {
	codec := mustCodec(t, abtime.NewManual())
	token, err := codec.Seal(samplePayload(time.Now()))
	if err != nil {
		t.Fatalf("seal error: %v", err)
	}
	for i := 0; i < len(token); i++ {
		tampered := []byte(token)
		tampered[i] ^= 0x01
		if _, err := codec.Unseal(string(tampered)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("byte %d: expected ErrInvalidToken, got %v", i, err)
		}
	}
}

func TestUnsealRejectsForeignSecretAndGarbage(t *testing.T) {
	codec := mustCodec(t, abtime.NewManual())
	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	token, _ := other.Seal(samplePayload(time.Now()))

	for _, input := range []string{token, "", "v1.", "v1.!!!!", "v2." + strings.TrimPrefix(token, "v1.")} {
		if _, err := codec.Unseal(input); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", input, err)
		}
	}
}

func TestUnsealExpired(t *testing.T) {
	clock := abtime.NewManual()
	codec := mustCodec(t, clock)
	token, err := codec.Seal(samplePayload(clock.Now()))
	if err != nil {
		t.Fatalf("seal error: %v", err)
	}

	clock.Advance(23 * time.Hour)
	if _, err := codec.Unseal(token); err != nil {
		t.Fatalf("expected valid token before ttl, got %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := codec.Unseal(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}
