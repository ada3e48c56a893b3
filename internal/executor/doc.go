// Package executor walks federated query plans.
//
// An Executor runs one plan per request against a Fetcher. Sequence steps run
// in order, Parallel branches concurrently, Flatten fans entity requirements
// out over lists and batches them into one subgraph call, and Condition picks
// a branch from the request variables. Subgraph data is merged into a
// per-request response tree; errors are collected in plan order (Sequence
// order, then Parallel branches in declaration order) regardless of when
// fetches complete.
//
// Subgraph failures never abort execution: they become errors located at the
// paths the failed fetch would have written. Only plan invariant violations
// end a request early.
package executor
