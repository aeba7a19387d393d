package message

import "strings"

// Framework-owned metadata keys. Keys beginning with "_" are also
// reserved regardless of this list.
const (
	// KeySubgraphStack holds the ordered parent resume contexts of a
	// pause that happened inside nested subgraphs.
	KeySubgraphStack = "__subgraphStack"

	// KeySubgraphDepth counts how deep the message is nested.
	KeySubgraphDepth = "subgraphDepth"

	// KeySubgraphPath is the "/"-joined chain of subgraph node ids.
	KeySubgraphPath = "subgraphPath"

	// KeySubgraphEnteredAt is when the current subgraph was entered.
	KeySubgraphEnteredAt = "subgraphEnteredAt"

	// KeyParentGraphID identifies the enclosing graph of a child run.
	KeyParentGraphID = "parentGraphId"

	// KeyParentRunID identifies the enclosing run of a child run.
	KeyParentRunID = "parentRunId"

	// KeyPausedNodeID is the node a WAITING message paused on.
	KeyPausedNodeID = "paused_node_id"

	// KeyPausedAt is when the message entered WAITING.
	KeyPausedAt = "paused_at"

	// KeyLastSubgraphID records the most recently completed subgraph.
	KeyLastSubgraphID = "lastSubgraphId"

	// KeyLastSubgraphState records its terminal state.
	KeyLastSubgraphState = "lastSubgraphState"

	// KeyLastSubgraphDuration records its wall-clock duration.
	KeyLastSubgraphDuration = "lastSubgraphDuration"
)

// Data keys written by the engine.
const (
	// KeySelectedBranch is the target node chosen by a decision node.
	KeySelectedBranch = "_selectedBranch"

	// KeyBranchName is the name of the chosen branch.
	KeyBranchName = "_branchName"

	// KeyDecisionNodeID is the decision node that made the choice.
	KeyDecisionNodeID = "_decisionNodeId"

	// Keys populated from a user_response tool call on resume.
	KeyResponseText         = "response_text"
	KeyStructuredResponse   = "structured_response"
	KeySelectedOption       = "selected_option"
	KeyUserResponseToolCall = "user_response_tool_call"
)

var reservedMetadataKeys = map[string]struct{}{
	KeySubgraphStack:        {},
	KeySubgraphDepth:        {},
	KeySubgraphPath:         {},
	KeySubgraphEnteredAt:    {},
	KeyParentGraphID:        {},
	KeyParentRunID:          {},
	KeyPausedNodeID:         {},
	KeyPausedAt:             {},
	KeyLastSubgraphID:       {},
	KeyLastSubgraphState:    {},
	KeyLastSubgraphDuration: {},
}

// IsReservedMetadataKey reports whether the key is framework-owned.
func IsReservedMetadataKey(key string) bool {
	if strings.HasPrefix(key, "_") {
		return true
	}
	_, ok := reservedMetadataKeys[key]
	return ok
}

// PreservedMetadataKeys are propagated from parent to child messages
// when entering a subgraph, unless the subgraph overrides the set.
func PreservedMetadataKeys() []string {
	return []string{
		"userId",
		"tenantId",
		"traceId",
		"spanId",
		"sessionToken",
		"correlationId",
		"isLoggedIn",
	}
}
