// Package surn is a mapping-driven source-to-source translation engine. It
// renders a unified-source AST in any number of target languages, each
// described either by an SMTT mapping definition or by an extension.
//
// # Pipeline
//
// A pass over one compilation unit runs in four steps:
//
//  1. Dispatch: each node is matched to a rule by its label (the target's
//     binding of the node's token) or by its kind. [WithPrecedence] decides
//     which wins when both match.
//  2. Plug: the rule body runs with the node bound to its binder name,
//     emitting template text, translating nested nodes and joining lists.
//     Structural rewrites (such as object_to_class) replace a node with a
//     synthesized tree that is translated the same way.
//  3. Types: annotations are rendered through the target's @typemap or
//     erased when the target cannot express them.
//  4. Validate: optionally, emitted text is re-parsed with the target's
//     tree-sitter grammar and syntax problems are reported as warnings.
//
// # Usage
//
//	e, err := surn.New(surn.WithCache(".surn/cache.db"))
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	err = e.LoadDefaults(ctx)
//	res, err := e.Translate(ctx, "javascript", surn.Source{Path: "main.sn", Root: root})
//	fmt.Println(res.Output)
//
// # Languages
//
// Bundled mapping definitions live in the mappings directory and bundled
// extension scripts in the extensions directory; both are embedded. A
// language registered again fully replaces the previous definition once
// the passes using it have finished. Languages declared with
// "@threading false" are translated one pass at a time.
//
// # Failures
//
// Under [Abort] the first unsupported construct fails the unit and no
// output is produced. Under [Skip] the construct is omitted and reported as
// a warning diagnostic. Either way a failed unit never yields partial text.
package surn
