// Package pallet holds the consensus side of the Arweave bridge: the task
// store, task escrow, and the four dispatchable calls that move tasks
// through Sign, Upload, Validate and Clear.
//
// State lives in SQL tables and each dispatch is one SQL transaction, so an
// extrinsic either applies all of its writes or none of them. Off-chain
// code never writes here directly; it submits signed extrinsics which a
// Runtime applies with ApplyExtrinsic.
package pallet
