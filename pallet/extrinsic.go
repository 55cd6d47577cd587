package pallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CallName selects the dispatchable an extrinsic invokes.
type CallName string

const (
	CallCreateTask   CallName = "create_task"
	CallUpdateTask   CallName = "update_task"
	CallSignTaskData CallName = "sign_task_data"
	CallClearTask    CallName = "clear_task"
)

// Call is a dispatchable with its arguments. Only the fields of the named call are set.
type Call struct {
	Name          CallName   `json:"call"`
	TaskID        TaskID     `json:"task_id,omitempty"`
	WorkerAddress AccountID  `json:"worker_address,omitempty"`
	Data          []byte     `json:"data,omitempty"`
	Amount        Balance    `json:"amount,omitempty"`
	Tips          Balance    `json:"tips,omitempty"`
	State         *TaskState `json:"state,omitempty"`
	SignedData    []byte     `json:"signed_data,omitempty"`
	TxHash        *string    `json:"tx_hash,omitempty"`
}

func CreateTaskCall(worker AccountID, data []byte, amount, tips Balance) Call {
	return Call{Name: CallCreateTask, WorkerAddress: worker, Data: data, Amount: amount, Tips: tips}
}

func UpdateTaskCall(id TaskID, state TaskState) Call {
	return Call{Name: CallUpdateTask, TaskID: id, State: &state}
}

func SignTaskDataCall(id TaskID, signedData []byte, txHash *string) Call {
	return Call{Name: CallSignTaskData, TaskID: id, SignedData: signedData, TxHash: txHash}
}

func ClearTaskCall(id TaskID) Call {
	return Call{Name: CallClearTask, TaskID: id}
}

// Extrinsic is a call signed by a local account, as it travels through the pool.
type Extrinsic struct {
	ID        string    `json:"id"`
	Signer    AccountID `json:"signer"`
	Call      Call      `json:"call"`
	Signature []byte    `json:"signature"`
}

// AccountFromPublicKey derives the account id owned by pub.
func AccountFromPublicKey(pub ed25519.PublicKey) AccountID {
	return AccountID(hex.EncodeToString(pub))
}

// SigningPayload is the message an account signs to authorize call.
func SigningPayload(signer AccountID, call Call) ([]byte, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}
	return append([]byte(string(signer)+":"), body...), nil
}

// Verify checks that Signature was produced by the key behind Signer.
func (x Extrinsic) Verify() error {
	if x.Signer == "" {
		return ErrBadOrigin
	}
	pub, err := hex.DecodeString(string(x.Signer))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed signer %q", ErrBadSignature, x.Signer)
	}
	msg, err := SigningPayload(x.Signer, x.Call)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, x.Signature) {
		return ErrBadSignature
	}
	return nil
}
