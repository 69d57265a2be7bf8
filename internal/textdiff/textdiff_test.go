package textdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLines_Equal(t *testing.T) {
	assert.Empty(t, Lines("a\nb\n", "a\nb\n"))
}

func TestLines_ReportsChangedLine(t *testing.T) {
	out := Lines("let a = 1;\nlet b = 2;\n", "let a = 1;\nconst b = 2;\n")
	assert.Contains(t, out, " let a = 1;\n")
	assert.Contains(t, out, "-let b = 2;\n")
	assert.Contains(t, out, "+const b = 2;\n")
}

func TestChanged(t *testing.T) {
	ins, del := Changed("a\nb\nc\n", "a\nx\ny\nc\n")
	assert.Equal(t, 2, ins)
	assert.Equal(t, 1, del)

	ins, del = Changed("same\n", "same\n")
	assert.Zero(t, ins)
	assert.Zero(t, del)
}
