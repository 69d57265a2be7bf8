package ast

// Kind names a node's structural kind. Unified-source kinds are predeclared;
// target ASTs (e.g. converted from a tree-sitter parse) use their grammar's
// own node type names.
type Kind string

const (
	KindStatement  Kind = "Statement"
	KindExpression Kind = "Expression"
	KindMacro      Kind = "Macro"

	KindProgram             Kind = "Program"
	KindBlock               Kind = "Block"
	KindVariableDeclaration Kind = "VariableDeclaration"
	KindConstDeclaration    Kind = "ConstDeclaration"
	KindFunction            Kind = "Function"
	KindParam               Kind = "Param"
	KindReturn              Kind = "Return"
	KindExpressionStatement Kind = "ExpressionStatement"
	KindObjectStatement     Kind = "ObjectStatement"
	KindObjectProperty      Kind = "ObjectProperty"
	KindClass               Kind = "Class"
	KindClassProperty       Kind = "ClassProperty"
	KindImport              Kind = "Import"
	KindNamespace           Kind = "Namespace"
	KindMacroInvocation     Kind = "MacroInvocation"

	KindCallExpression   Kind = "CallExpression"
	KindMemberExpression Kind = "MemberExpression"
	KindNewExpression    Kind = "NewExpression"
	KindBinaryExpression Kind = "BinaryExpression"
	KindAwaitExpression  Kind = "AwaitExpression"
	KindArrayExpression  Kind = "ArrayExpression"
	KindObjectExpression Kind = "ObjectExpression"
	KindLiteral          Kind = "Literal"
	KindIdentifier       Kind = "Identifier"
	KindTypeRef          Kind = "TypeRef"
)

// Category is the coarse node classification shared with native extensions.
// The numeric values are part of the extension ABI.
type Category int

const (
	CategoryNone       Category = 0
	CategoryStatement  Category = 1
	CategoryExpression Category = 2
	CategoryMacro      Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryStatement:
		return "Statement"
	case CategoryExpression:
		return "Expression"
	case CategoryMacro:
		return "Macro"
	}
	return "None"
}

var categories = map[Kind]Category{
	KindStatement:           CategoryStatement,
	KindProgram:             CategoryStatement,
	KindBlock:               CategoryStatement,
	KindVariableDeclaration: CategoryStatement,
	KindConstDeclaration:    CategoryStatement,
	KindFunction:            CategoryStatement,
	KindReturn:              CategoryStatement,
	KindExpressionStatement: CategoryStatement,
	KindObjectStatement:     CategoryStatement,
	KindClass:               CategoryStatement,
	KindImport:              CategoryStatement,
	KindNamespace:           CategoryStatement,

	KindExpression:       CategoryExpression,
	KindCallExpression:   CategoryExpression,
	KindMemberExpression: CategoryExpression,
	KindNewExpression:    CategoryExpression,
	KindBinaryExpression: CategoryExpression,
	KindAwaitExpression:  CategoryExpression,
	KindArrayExpression:  CategoryExpression,
	KindObjectExpression: CategoryExpression,
	KindLiteral:          CategoryExpression,
	KindIdentifier:       CategoryExpression,

	KindMacro:           CategoryMacro,
	KindMacroInvocation: CategoryMacro,
}

// Category reports the kind's coarse classification. Kinds outside the
// unified-source vocabulary report CategoryNone.
func (k Kind) Category() Category {
	return categories[k]
}

// Capability is the discriminant rule bodies branch on when a construct may
// be rendered either as a class or as a plain object.
type Capability int

const (
	CapNone Capability = iota
	CapClass
	CapPlainObject
)

func (c Capability) String() string {
	switch c {
	case CapClass:
		return "class"
	case CapPlainObject:
		return "plain_object"
	}
	return "none"
}

// Capability reports n's capability discriminant.
func (n *Node) Capability() Capability {
	switch n.Kind {
	case KindClass:
		return CapClass
	case KindObjectStatement, KindObjectExpression:
		return CapPlainObject
	}
	return CapNone
}
