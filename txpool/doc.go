// Package txpool is the node's transaction pool, built on asynq.
//
// Signed extrinsics are enqueued as "extrinsic:apply" tasks and applied to
// chain state by the node processor; block ticks travel as "block:author"
// tasks on their own queue. Every extrinsic also gets a receipt row in SQL
// (created, in_progress, completed or failed, with the dispatch error), which
// is where an operator looks when a task seems stuck.
package txpool
