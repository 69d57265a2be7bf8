package translate

import (
	"fmt"

	"github.com/jward/surn/internal/ast"
)

// targetTree returns a copy of root with every rewritten node replaced by
// its synthesized counterpart. Rewrites of synthesized nodes are applied to
// the synthesized copy they belong to.
func (p *pass) targetTree(root *ast.Node) (*ast.Node, error) {
	out, m := root.CloneMap()
	for len(p.rewrites) > 0 {
		progressed := false
		for orig, repl := range p.rewrites {
			c, ok := m[orig]
			if !ok {
				continue
			}
			delete(p.rewrites, orig)
			progressed = true

			rc, rm := repl.CloneMap()
			for k, v := range rm {
				m[k] = v
			}
			if c == out {
				out = rc
				continue
			}
			if parent := c.Parent(); parent != nil {
				if err := parent.Replace(c, rc); err != nil {
					return nil, fmt.Errorf("translate: target tree: %w", err)
				}
			}
		}
		if !progressed {
			break
		}
	}
	return out, nil
}
