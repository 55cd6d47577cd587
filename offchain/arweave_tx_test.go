package offchain

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func walletKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func TestRSASigner_SignAndVerify(t *testing.T) {
	s := NewRSASigner(walletKey(t), true)
	tx, err := s.SignTransaction([]byte(`{"a":1}`), 20, "YWJj", []Tag{contentTypeTag})
	if err != nil {
		t.Fatalf("SignTransaction: %v", err)
	}
	if tx.Format != 1 || tx.Reward != "20" || tx.Quantity != "0" || tx.LastTx != "YWJj" || tx.Owner != s.Owner() {
		t.Fatalf("unexpected tx: %#v", tx)
	}
	if len(tx.Tags) != 1 || tx.Tags[0].Name != "Q29udGVudC1UeXBl" {
		t.Fatalf("unexpected tags: %#v", tx.Tags)
	}
	if err := VerifyTransaction(tx); err != nil {
		t.Fatalf("VerifyTransaction: %v", err)
	}

	body, err := tx.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Transaction
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded.Reward = "40"
	if err := VerifyTransaction(&decoded); err == nil {
		t.Fatalf("expected verification to fail after changing the reward")
	}
}

func TestRSASigner_IDsDiffer(t *testing.T) {
	s := NewRSASigner(walletKey(t), true)
	a, err := s.SignTransaction([]byte(`{}`), 1, "", nil)
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	b, err := s.SignTransaction([]byte(`{}`), 1, "", nil)
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	// PSS is randomized, so re-signing the same data yields a new id
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %s twice", a.ID)
	}
}

func TestRSASigner_BadAnchor(t *testing.T) {
	s := NewRSASigner(walletKey(t), true)
	_, err := s.SignTransaction([]byte(`{}`), 1, "not/base64url+", nil)
	var se *SigningError
	if !errors.As(err, &se) {
		t.Fatalf("expected SigningError, got %v", err)
	}
}

func TestRSASigner_Toggle(t *testing.T) {
	s := NewRSASigner(walletKey(t), false)
	if s.Enabled() {
		t.Fatalf("expected disabled")
	}
	if !s.Toggle() || !s.Enabled() {
		t.Fatalf("toggle should enable")
	}
	if s.Toggle() || s.Enabled() {
		t.Fatalf("toggle should disable")
	}
}

func TestWallet_RoundTrip(t *testing.T) {
	key := walletKey(t)
	raw, err := EncodeWallet(key)
	if err != nil {
		t.Fatalf("EncodeWallet: %v", err)
	}
	parsed, err := ParseWallet(raw)
	if err != nil {
		t.Fatalf("ParseWallet: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 || parsed.E != key.E || parsed.D.Cmp(key.D) != 0 {
		t.Fatalf("parsed key differs")
	}
	if _, err := ParseWallet([]byte(`{"kty":"EC"}`)); err == nil {
		t.Fatalf("expected error for non-RSA wallet")
	}
}
