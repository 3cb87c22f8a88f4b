// Package oao defines the core contracts for the Open Agent Orchestrator
// runtime: the adapter capability set that agent integrations implement, the
// tool registry that governed tool calls are routed through, the execution
// report returned to callers, and the shared error taxonomy.
//
// The runtime itself lives in the subpackages: event (append-only event log
// and state folding), policy (governance budgets and retry classification),
// execution (the lifecycle engine, snapshots, and replay), dag (dependency
// ordered multi-agent execution), scheduler (the distributed job queue), and
// server (the event stream facade).
package oao
