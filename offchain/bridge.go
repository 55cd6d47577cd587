package offchain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mohans/arbridge/pallet"
)

// Signer is a local account able to authorize extrinsics.
type Signer interface {
	AccountID() pallet.AccountID
	Sign(msg []byte) []byte
}

// Keypair is an ed25519 Signer.
type Keypair struct {
	priv ed25519.PrivateKey
	id   pallet.AccountID
}

func NewKeypair(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, id: pallet.AccountFromPublicKey(priv.Public().(ed25519.PublicKey))}, nil
}

// KeypairFromHex builds a keypair from a hex seed, with or without a 0x prefix.
func KeypairFromHex(s string) (*Keypair, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return NewKeypair(seed)
}

func GenerateKeypair() (*Keypair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewKeypair(seed)
}

func (k *Keypair) AccountID() pallet.AccountID { return k.id }

func (k *Keypair) Sign(msg []byte) []byte { return ed25519.Sign(k.priv, msg) }

// TxPool accepts signed extrinsics for inclusion in a later block.
type TxPool interface {
	SubmitExtrinsic(ctx context.Context, xt pallet.Extrinsic) error
}

// SignExtrinsic authorizes call with s.
func SignExtrinsic(s Signer, call pallet.Call) (pallet.Extrinsic, error) {
	msg, err := pallet.SigningPayload(s.AccountID(), call)
	if err != nil {
		return pallet.Extrinsic{}, err
	}
	return pallet.Extrinsic{
		ID:        uuid.NewString(),
		Signer:    s.AccountID(),
		Call:      call,
		Signature: s.Sign(msg),
	}, nil
}

// SubmitResult is the outcome of one account's submission.
type SubmitResult struct {
	Account pallet.AccountID
	Err     error
}

// Bridge sends calls from offchain context as extrinsics signed by every local account.
type Bridge struct {
	pool    TxPool
	signers []Signer
}

func NewBridge(pool TxPool, signers ...Signer) *Bridge {
	return &Bridge{pool: pool, signers: signers}
}

func (b *Bridge) CanSign() bool { return len(b.signers) > 0 }

// SendSignedTransaction submits call once per local account. A failing account does not stop the others.
func (b *Bridge) SendSignedTransaction(ctx context.Context, call pallet.Call) []SubmitResult {
	results := make([]SubmitResult, 0, len(b.signers))
	for _, s := range b.signers {
		xt, err := SignExtrinsic(s, call)
		if err == nil {
			err = b.pool.SubmitExtrinsic(ctx, xt)
		}
		results = append(results, SubmitResult{Account: s.AccountID(), Err: err})
	}
	return results
}
