// Package patterns builds the common multi-agent code workflow
// topologies on top of the flow engine: sequential pipelines,
// conditional routing to experts, parallel specialist review, a
// supervisor loop, orchestrator-worker decomposition, an
// evaluator-optimizer quality loop, and a production pipeline with
// retry, approval, and rollback.
//
// Each constructor wires agents (see flow/agent) into a validated
// graph; callers run the result with a flow.Scheduler.
package patterns
