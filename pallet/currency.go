package pallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PalletID names the account that holds task escrow.
const PalletID = "py/arwve"

// PalletAccount is the escrow account derived from PalletID.
var PalletAccount = deriveAccount("modl" + PalletID)

func deriveAccount(seed string) AccountID {
	sum := sha256.Sum256([]byte(seed))
	return AccountID(hex.EncodeToString(sum[:]))
}

// ExistenceRequirement controls whether a transfer may reap the sender.
type ExistenceRequirement int

const (
	AllowDeath ExistenceRequirement = iota
	KeepAlive
)

// Currency moves free balance between accounts under an existential deposit rule.
type Currency struct {
	ExistentialDeposit Balance
}

func (c Currency) MinimumBalance() Balance { return c.ExistentialDeposit }

func (c Currency) Transfer(ctx context.Context, tx *Tx, from, to AccountID, amount Balance, req ExistenceRequirement) error {
	if amount == 0 || from == to {
		return nil
	}
	fromFree, err := tx.FreeBalance(ctx, from)
	if err != nil {
		return err
	}
	if fromFree < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, fromFree, amount)
	}
	left := fromFree - amount
	if left < c.ExistentialDeposit && (req == KeepAlive || left > 0) {
		if req == KeepAlive {
			return fmt.Errorf("%w: %s", ErrKeepAlive, from)
		}
		// dust below ED is burned with the account
		left = 0
	}

	toFree, err := tx.FreeBalance(ctx, to)
	if err != nil {
		return err
	}
	if toFree == 0 && amount < c.ExistentialDeposit {
		return fmt.Errorf("%w: %d < %d", ErrExistentialDeposit, amount, c.ExistentialDeposit)
	}
	newTo, ok := toFree.CheckedAdd(amount)
	if !ok {
		return ErrDepositOverflow
	}

	if err := tx.SetFreeBalance(ctx, from, left); err != nil {
		return err
	}
	return tx.SetFreeBalance(ctx, to, newTo)
}
