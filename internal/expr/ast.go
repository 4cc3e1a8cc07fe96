package expr

// NodeType represents the type of an AST node.
type NodeType int

const (
	NodeTypeLiteral    NodeType = iota // literal value (string, int, float, bool, null)
	NodeTypePath                       // context path (matrix.python, steps['cache'].outputs)
	NodeTypeFunction                   // function call
	NodeTypeComparison                 // ==, !=, <, <=, >, >=
	NodeTypeLogical                    // &&, ||
	NodeTypeNot                        // !
)

// Node represents a node in the AST.
type Node interface {
	nodeType() NodeType
}

// LiteralNode represents a literal value.
type LiteralNode struct {
	Value any // string, int64, float64, bool, or nil
}

func (n *LiteralNode) nodeType() NodeType { return NodeTypeLiteral }

// SegmentKind distinguishes path accessor kinds.
type SegmentKind int

const (
	SegmentField SegmentKind = iota // .name or ['name']
	SegmentIndex                    // [0]
)

// Segment is one accessor of a context path.
type Segment struct {
	Kind  SegmentKind
	Name  string
	Index int
}

// PathNode represents a context lookup rooted at an identifier.
type PathNode struct {
	Root     string
	Segments []Segment
}

func (n *PathNode) nodeType() NodeType { return NodeTypePath }

// FunctionNode represents a function call.
type FunctionNode struct {
	Name string
	Args []Node
}

func (n *FunctionNode) nodeType() NodeType { return NodeTypeFunction }

// AccessNode applies path accessors to the result of another node, as in
// fromJSON(ci.payload).commits[0].
type AccessNode struct {
	Base     Node
	Segments []Segment
}

func (n *AccessNode) nodeType() NodeType { return NodeTypePath }

// ComparisonNode represents a comparison expression.
type ComparisonNode struct {
	Left     Node
	Operator string
	Right    Node
}

func (n *ComparisonNode) nodeType() NodeType { return NodeTypeComparison }

// LogicalNode represents a short-circuiting logical expression.
type LogicalNode struct {
	Left     Node
	Operator string // && or ||
	Right    Node
}

func (n *LogicalNode) nodeType() NodeType { return NodeTypeLogical }

// NotNode represents logical negation.
type NotNode struct {
	Operand Node
}

func (n *NotNode) nodeType() NodeType { return NodeTypeNot }

// AST wraps the root node of a parsed expression.
type AST struct {
	Root Node
}
