package graph

// Kind identifies a node type from the closed set supported by the engine.
type Kind string

const (
	KindText          Kind = "text"
	KindUploadImage   Kind = "upload_image"
	KindUploadVideo   Kind = "upload_video"
	KindLLM           Kind = "llm"
	KindCropImage     Kind = "crop_image"
	KindExtractFrame  Kind = "extract_frame"
	KindGenerateImage Kind = "generate_image"
	KindExportText    Kind = "export_text"
	KindExportImage   Kind = "export_image"
	KindExportVideo   Kind = "export_video"
)

// AllKinds lists every supported node kind in registry order.
var AllKinds = []Kind{
	KindText,
	KindUploadImage,
	KindUploadVideo,
	KindLLM,
	KindCropImage,
	KindExtractFrame,
	KindGenerateImage,
	KindExportText,
	KindExportImage,
	KindExportVideo,
}

// Valid reports whether the kind belongs to the closed set.
func (kind Kind) Valid() bool {
	for _, known := range AllKinds {
		if kind == known {
			return true
		}
	}
	return false
}

// IsExport reports whether the kind is one of the export sinks.
func (kind Kind) IsExport() bool {
	return kind == KindExportText || kind == KindExportImage || kind == KindExportVideo
}

// DataType is the media type flowing across an edge.
type DataType string

const (
	TypeText  DataType = "text"
	TypeImage DataType = "image"
	TypeVideo DataType = "video"
)

// Node is a single processing step authored by the user. Data carries
// kind-specific defaults (selectedModel, xPercent, ...) keyed by the same
// camelCase names the editor writes.
type Node struct {
	ID       string         `json:"id"`
	Kind     Kind           `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Selected bool           `json:"selected,omitempty"`
}

// Edge is a directed, typed connection between a producer handle and a
// consumer handle.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// Graph is a workflow graph snapshot with indexed lookups. Build it with New;
// the zero value is not usable.
type Graph struct {
	Nodes []*Node
	Edges []*Edge

	nodesByID      map[string]*Node
	incomingByNode map[string][]*Edge
	outgoingByNode map[string][]*Edge
}

// New builds a Graph with its lookup indexes populated. The node and edge
// slices are referenced, not copied; callers must not mutate them afterwards.
func New(nodes []*Node, edges []*Edge) *Graph {
	builtGraph := &Graph{
		Nodes:          nodes,
		Edges:          edges,
		nodesByID:      make(map[string]*Node, len(nodes)),
		incomingByNode: make(map[string][]*Edge),
		outgoingByNode: make(map[string][]*Edge),
	}

	for _, graphNode := range nodes {
		builtGraph.nodesByID[graphNode.ID] = graphNode
	}

	for _, graphEdge := range edges {
		builtGraph.incomingByNode[graphEdge.Target] = append(builtGraph.incomingByNode[graphEdge.Target], graphEdge)
		builtGraph.outgoingByNode[graphEdge.Source] = append(builtGraph.outgoingByNode[graphEdge.Source], graphEdge)
	}

	return builtGraph
}

// NodeByID returns the node with the given id, or nil.
func (workflowGraph *Graph) NodeByID(nodeID string) *Node {
	return workflowGraph.nodesByID[nodeID]
}

// IncomingEdges returns the edges whose target is the given node.
func (workflowGraph *Graph) IncomingEdges(nodeID string) []*Edge {
	return workflowGraph.incomingByNode[nodeID]
}

// OutgoingEdges returns the edges whose source is the given node.
func (workflowGraph *Graph) OutgoingEdges(nodeID string) []*Edge {
	return workflowGraph.outgoingByNode[nodeID]
}

// HasExportNode reports whether any node in the graph is an export sink.
func (workflowGraph *Graph) HasExportNode() bool {
	for _, graphNode := range workflowGraph.Nodes {
		if graphNode.Kind.IsExport() {
			return true
		}
	}
	return false
}
