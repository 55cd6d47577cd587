package offchain

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"sync/atomic"
)

var b64 = base64.RawURLEncoding

// Tag is an arweave transaction tag before encoding.
type Tag struct {
	Name  []byte
	Value []byte
}

type EncodedTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Transaction is a format-1 arweave transaction in its wire (JSON) form.
// Binary fields are base64url without padding.
type Transaction struct {
	Format    int          `json:"format"`
	ID        string       `json:"id"`
	LastTx    string       `json:"last_tx"`
	Owner     string       `json:"owner"`
	Tags      []EncodedTag `json:"tags"`
	Target    string       `json:"target"`
	Quantity  string       `json:"quantity"`
	Data      string       `json:"data"`
	Reward    string       `json:"reward"`
	Signature string       `json:"signature"`
}

// Encode returns the body POSTed to /tx.
func (tx *Transaction) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// signatureData is owner|target|data|quantity|reward|last_tx|tags, binary fields decoded.
func (tx *Transaction) signatureData() ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range []string{tx.Owner, tx.Target, tx.Data} {
		raw, err := b64.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("decode field: %w", err)
		}
		buf.Write(raw)
	}
	buf.WriteString(tx.Quantity)
	buf.WriteString(tx.Reward)
	lastTx, err := b64.DecodeString(tx.LastTx)
	if err != nil {
		return nil, fmt.Errorf("decode last_tx: %w", err)
	}
	buf.Write(lastTx)
	for _, t := range tx.Tags {
		name, err := b64.DecodeString(t.Name)
		if err != nil {
			return nil, fmt.Errorf("decode tag: %w", err)
		}
		value, err := b64.DecodeString(t.Value)
		if err != nil {
			return nil, fmt.Errorf("decode tag: %w", err)
		}
		buf.Write(name)
		buf.Write(value)
	}
	return buf.Bytes(), nil
}

var pssOptions = &rsa.PSSOptions{SaltLength: 32, Hash: crypto.SHA256}

// VerifyTransaction checks the signature against the owner key and the id against the signature.
func VerifyTransaction(tx *Transaction) error {
	n, err := b64.DecodeString(tx.Owner)
	if err != nil {
		return fmt.Errorf("decode owner: %w", err)
	}
	sig, err := b64.DecodeString(tx.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	msg, err := tx.signatureData()
	if err != nil {
		return err
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: 65537}
	digest := sha256.Sum256(msg)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOptions); err != nil {
		return err
	}
	id := sha256.Sum256(sig)
	if b64.EncodeToString(id[:]) != tx.ID {
		return errors.New("transaction id does not match signature")
	}
	return nil
}

// TransactionSigner builds signed arweave transactions on behalf of the node wallet.
// Enabled is the node-wide switch that gates the offchain worker.
type TransactionSigner interface {
	Enabled() bool
	SignTransaction(data []byte, reward uint64, anchor string, tags []Tag) (*Transaction, error)
}

// RSASigner signs with an arweave RSA wallet.
type RSASigner struct {
	key     *rsa.PrivateKey
	rand    io.Reader
	enabled atomic.Bool
}

func NewRSASigner(key *rsa.PrivateKey, enabled bool) *RSASigner {
	s := &RSASigner{key: key, rand: rand.Reader}
	s.enabled.Store(enabled)
	return s
}

func (s *RSASigner) Enabled() bool { return s.enabled.Load() }

func (s *RSASigner) SetEnabled(on bool) { s.enabled.Store(on) }

// Toggle flips the switch and returns the new value.
func (s *RSASigner) Toggle() bool {
	for {
		old := s.enabled.Load()
		if s.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Owner is the base64url public modulus, as carried in the owner field.
func (s *RSASigner) Owner() string {
	return b64.EncodeToString(s.key.N.Bytes())
}

// Address is the wallet address derived from the owner.
func (s *RSASigner) Address() string {
	sum := sha256.Sum256(s.key.N.Bytes())
	return b64.EncodeToString(sum[:])
}

func (s *RSASigner) SignTransaction(data []byte, reward uint64, anchor string, tags []Tag) (*Transaction, error) {
	if _, err := b64.DecodeString(anchor); err != nil {
		return nil, &SigningError{Err: fmt.Errorf("anchor %q: %w", anchor, err)}
	}
	tx := &Transaction{
		Format:   1,
		LastTx:   anchor,
		Owner:    s.Owner(),
		Tags:     make([]EncodedTag, 0, len(tags)),
		Target:   "",
		Quantity: "0",
		Data:     b64.EncodeToString(data),
		Reward:   strconv.FormatUint(reward, 10),
	}
	for _, t := range tags {
		tx.Tags = append(tx.Tags, EncodedTag{Name: b64.EncodeToString(t.Name), Value: b64.EncodeToString(t.Value)})
	}
	msg, err := tx.signatureData()
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPSS(s.rand, s.key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	id := sha256.Sum256(sig)
	tx.Signature = b64.EncodeToString(sig)
	tx.ID = b64.EncodeToString(id[:])
	return tx, nil
}

type jwk struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	D   string `json:"d"`
	P   string `json:"p"`
	Q   string `json:"q"`
}

// LoadWallet reads an arweave keyfile (RSA JWK).
func LoadWallet(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	return ParseWallet(raw)
}

func ParseWallet(raw []byte) (*rsa.PrivateKey, error) {
	var k jwk
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("wallet key type %q, want RSA", k.Kty)
	}
	ints := make([]*big.Int, 5)
	for i, f := range []string{k.N, k.E, k.D, k.P, k.Q} {
		b, err := b64.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("wallet field %d: %w", i, err)
		}
		ints[i] = new(big.Int).SetBytes(b)
	}
	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: ints[0], E: int(ints[1].Int64())},
		D:         ints[2],
		Primes:    []*big.Int{ints[3], ints[4]},
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	key.Precompute()
	return key, nil
}

// EncodeWallet renders key as an arweave keyfile.
func EncodeWallet(key *rsa.PrivateKey) ([]byte, error) {
	if len(key.Primes) != 2 {
		return nil, errors.New("wallet needs a two-prime key")
	}
	return json.Marshal(jwk{
		Kty: "RSA",
		N:   b64.EncodeToString(key.N.Bytes()),
		E:   b64.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		D:   b64.EncodeToString(key.D.Bytes()),
		P:   b64.EncodeToString(key.Primes[0].Bytes()),
		Q:   b64.EncodeToString(key.Primes[1].Bytes()),
	})
}
