// Package offchain runs the Arweave side of the bridge: it reads tasks from
// chain state, talks to an Arweave gateway, and feeds the results back as
// signed extrinsics.
//
// Work is split into three stages run once per even block:
//  1. Sign: fetch a fee quote and an anchor, sign an arweave transaction.
//  2. Upload: post one signed transaction, guarded by a node-local marker.
//  3. Validate: poll each posted transaction and advance or regress the task.
//
// Nothing here writes chain state. Results travel through a Bridge that
// signs them with every local account and hands them to a TxPool.
package offchain
