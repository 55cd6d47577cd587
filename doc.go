// Package arbridge is a single-node chain that archives task data on Arweave.
//
// Users submit create_task extrinsics that escrow a payment; the offchain
// worker signs, uploads and validates an Arweave transaction for each task
// and reports progress back as extrinsics; clear_task finally pays the
// worker and records the result.
//
// Wiring:
//  1. Open a SQL DB, create pallet.NewSQLStore and txpool.NewSQLStore, Migrate both.
//  2. Build a pallet.Runtime, an offchain.Pipeline and an offchain.Worker.
//  3. Create a txpool.Client; it is the TxPool behind the offchain.Bridge.
//  4. Create a Processor and Start it; it applies extrinsics and authors blocks.
package arbridge
