package diagram

// NodeKind classifies a diagram node by its role in the pipeline.
type NodeKind string

const (
	NodeKindSource  NodeKind = "source"  // no inputs, e.g. loaders
	NodeKindProcess NodeKind = "process" // has inputs and outputs
	NodeKindOutput  NodeKind = "output"  // terminal node per the registry
	NodeKindUnknown NodeKind = "unknown" // type missing from the registry
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title    string
	Nodes    []*Node
	Edges    []Edge
	Clusters []*Cluster
	// Levels lists node ids by execution depth. Empty when the document has
	// a cycle; renderers then fall back to document order.
	Levels [][]string
}

// Node is one document node.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Bypassed bool
	Cluster  string
	// Issues counts blocking validation errors attributed to the node.
	Issues int
}

// Cluster is a group drawn around its members.
type Cluster struct {
	ID      string
	Title   string
	Color   string
	NodeIDs []string
}

// Edge is a link, labeled with the type it carries.
type Edge struct {
	From  string
	To    string
	Label string
}
