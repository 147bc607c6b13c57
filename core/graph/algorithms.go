package graph

import (
	"fmt"
	"sort"

	"github.com/frameloom/frameloom/core/apperr"
)

// ValidateEdges checks every edge against the node set and the handle
// registry: both endpoints must exist, both handles must resolve, types must
// match, and no two edges may share both endpoints and both handle ids.
func ValidateEdges(workflowGraph *Graph) error {
	seenEdges := make(map[string]bool, len(workflowGraph.Edges))

	for _, graphEdge := range workflowGraph.Edges {
		sourceNode := workflowGraph.NodeByID(graphEdge.Source)
		if sourceNode == nil {
			return apperr.Validation("edge %q references unknown source node %q", graphEdge.ID, graphEdge.Source)
		}

		targetNode := workflowGraph.NodeByID(graphEdge.Target)
		if targetNode == nil {
			return apperr.Validation("edge %q references unknown target node %q", graphEdge.ID, graphEdge.Target)
		}

		if !Compatible(sourceNode.Kind, graphEdge.SourceHandle, targetNode.Kind, graphEdge.TargetHandle) {
			return apperr.Validation(
				"edge %q connects incompatible handles %s.%s -> %s.%s",
				graphEdge.ID, sourceNode.Kind, graphEdge.SourceHandle, targetNode.Kind, graphEdge.TargetHandle,
			)
		}

		duplicateKey := graphEdge.Source + "." + graphEdge.SourceHandle + "->" + graphEdge.Target + "." + graphEdge.TargetHandle
		if seenEdges[duplicateKey] {
			return apperr.Validation("duplicate edge from %q to %q", graphEdge.Source, graphEdge.Target)
		}
		seenEdges[duplicateKey] = true
	}

	return nil
}

// dfsColor marks DFS progress for cycle detection.
type dfsColor int

const (
	colorWhite dfsColor = iota // not visited
	colorGrey                  // on the current DFS stack
	colorBlack                 // fully explored
)

// ValidateDAG reports whether the graph is acyclic. It runs a DFS with
// grey/black markers; encountering a grey node signals a back edge and
// therefore a cycle.
func ValidateDAG(workflowGraph *Graph) bool {
	colors := make(map[string]dfsColor, len(workflowGraph.Nodes))

	var visit func(nodeID string) bool
	visit = func(nodeID string) bool {
		colors[nodeID] = colorGrey

		for _, outgoing := range workflowGraph.OutgoingEdges(nodeID) {
			switch colors[outgoing.Target] {
			case colorGrey:
				return false
			case colorWhite:
				if !visit(outgoing.Target) {
					return false
				}
			}
		}

		colors[nodeID] = colorBlack
		return true
	}

	for _, graphNode := range workflowGraph.Nodes {
		if colors[graphNode.ID] == colorWhite {
			if !visit(graphNode.ID) {
				return false
			}
		}
	}

	return true
}

// ExecutionLevels partitions the graph into a layered topological order using
// Kahn's algorithm: level 0 holds every node with in-degree 0, and each
// subsequent level holds the nodes whose in-degree drops to 0 once the
// previous levels are removed. Nodes within a level are sorted by id so the
// output is deterministic.
//
// Returns an INVALID_DAG error when a cycle prevents all nodes from being
// emitted.
func ExecutionLevels(workflowGraph *Graph) ([][]*Node, error) {
	inDegree := make(map[string]int, len(workflowGraph.Nodes))
	for _, graphNode := range workflowGraph.Nodes {
		inDegree[graphNode.ID] = len(workflowGraph.IncomingEdges(graphNode.ID))
	}

	currentLevel := make([]*Node, 0)
	for _, graphNode := range workflowGraph.Nodes {
		if inDegree[graphNode.ID] == 0 {
			currentLevel = append(currentLevel, graphNode)
		}
	}
	sortNodesByID(currentLevel)

	levels := make([][]*Node, 0)
	emittedCount := 0

	for len(currentLevel) > 0 {
		levels = append(levels, currentLevel)
		emittedCount += len(currentLevel)

		nextLevel := make([]*Node, 0)
		for _, levelNode := range currentLevel {
			for _, outgoing := range workflowGraph.OutgoingEdges(levelNode.ID) {
				inDegree[outgoing.Target]--
				if inDegree[outgoing.Target] == 0 {
					nextLevel = append(nextLevel, workflowGraph.NodeByID(outgoing.Target))
				}
			}
		}
		sortNodesByID(nextLevel)

		currentLevel = nextLevel
	}

	if emittedCount != len(workflowGraph.Nodes) {
		remaining := make([]string, 0)
		for nodeID, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, nodeID)
			}
		}
		sort.Strings(remaining)
		return nil, apperr.InvalidDAG().WithDetail("cycleNodes", remaining)
	}

	return levels, nil
}

// Scope selects which part of the workflow graph to execute.
type Scope string

const (
	// ScopeFull executes the entire graph.
	ScopeFull Scope = "FULL"

	// ScopeSelected executes the selected nodes plus their upstream closure.
	ScopeSelected Scope = "SELECTED"

	// ScopeSingle executes exactly one selected node plus its upstream closure.
	ScopeSingle Scope = "SINGLE"
)

// Valid reports whether the scope is one of the known selectors.
func (scope Scope) Valid() bool {
	return scope == ScopeFull || scope == ScopeSelected || scope == ScopeSingle
}

// SubgraphForScope reduces the graph to the requested execution scope.
//
// FULL returns the graph unchanged. SELECTED and SINGLE retain every selected
// node plus its transitive upstream closure (all ancestors), so a selected run
// can reproduce its required inputs without executing downstream peers. Edges
// are filtered to those whose both endpoints are retained.
//
// SINGLE requires exactly one selected id; SELECTED requires at least one.
func SubgraphForScope(workflowGraph *Graph, scope Scope, selectedIDs []string) (*Graph, error) {
	switch scope {
	case ScopeFull:
		return workflowGraph, nil
	case ScopeSingle:
		if len(selectedIDs) != 1 {
			return nil, apperr.InvalidScope("SINGLE scope requires exactly one selected node, got %d", len(selectedIDs))
		}
	case ScopeSelected:
		if len(selectedIDs) == 0 {
			return nil, apperr.InvalidScope("SELECTED scope requires at least one selected node")
		}
	default:
		return nil, apperr.InvalidScope("unknown scope %q", string(scope))
	}

	retained := make(map[string]bool, len(selectedIDs))
	pending := make([]string, 0, len(selectedIDs))

	for _, selectedID := range selectedIDs {
		if workflowGraph.NodeByID(selectedID) == nil {
			return nil, apperr.InvalidScope("selected node %q does not exist in the workflow", selectedID)
		}
		if !retained[selectedID] {
			retained[selectedID] = true
			pending = append(pending, selectedID)
		}
	}

	// Walk incoming edges transitively to pull in every ancestor.
	for len(pending) > 0 {
		currentID := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		for _, incoming := range workflowGraph.IncomingEdges(currentID) {
			if !retained[incoming.Source] {
				retained[incoming.Source] = true
				pending = append(pending, incoming.Source)
			}
		}
	}

	scopedNodes := make([]*Node, 0, len(retained))
	for _, graphNode := range workflowGraph.Nodes {
		if retained[graphNode.ID] {
			scopedNodes = append(scopedNodes, graphNode)
		}
	}

	scopedEdges := make([]*Edge, 0, len(workflowGraph.Edges))
	for _, graphEdge := range workflowGraph.Edges {
		if retained[graphEdge.Source] && retained[graphEdge.Target] {
			scopedEdges = append(scopedEdges, graphEdge)
		}
	}

	return New(scopedNodes, scopedEdges), nil
}

// sortNodesByID orders nodes lexicographically by id, in place.
func sortNodesByID(nodes []*Node) {
	sort.Slice(nodes, func(indexA, indexB int) bool {
		return nodes[indexA].ID < nodes[indexB].ID
	})
}

// describeLevels renders levels as "id,id | id" for error messages and tests.
func describeLevels(levels [][]*Node) string {
	description := ""
	for levelIndex, level := range levels {
		if levelIndex > 0 {
			description += " | "
		}
		for nodeIndex, levelNode := range level {
			if nodeIndex > 0 {
				description += ","
			}
			description += levelNode.ID
		}
	}
	return fmt.Sprintf("[%s]", description)
}
