package irg

import (
	"errors"
	"strings"
	"testing"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shapes = `
classes:
  - name: geo.Shape
    interface: true
  - name: geo.Base
    interfaces: [geo.Shape]
    methods:
      - name: area
        descriptor: ()I
        code:
          - "0: iconst_0"
          - "1: ireturn"
  - name: geo.Square
    super: geo.Base
    methods:
      - name: area
        descriptor: ()I
        code:
          - "0: new geo.Base"
          - "3: invokevirtual geo.Base.area()I"
          - "6: ireturn"
  - name: geo.Circle
    super: geo.Base
    interfaces: [geo.Shape, java.lang.Comparable]
`

func loadShapes(t *testing.T) (*bytecode.Program, []string) {
	t.Helper()
	prog, err := bytecode.DecodeProgram(strings.NewReader(shapes))
	require.NoError(t, err)
	return prog, prog.ClassNames()
}

func TestNew(t *testing.T) {
	prog, classes := loadShapes(t)
	g, err := New(prog, classes)
	require.NoError(t, err)

	base, err := g.Class("geo.Base")
	require.NoError(t, err)
	assert.Equal(t, bytecode.ObjectClass, base.Superclass())
	assert.Equal(t, []string{"geo.Circle", "geo.Square"}, base.Subclasses())

	shape, err := g.Class("geo.Shape")
	require.NoError(t, err)
	assert.Equal(t, UndefinedID, shape.Superclass())
	assert.Equal(t, []string{"geo.Base", "geo.Circle"}, shape.Implementors())

	// Outside classes get nodes but collect no relations.
	obj, err := g.Class(bytecode.ObjectClass)
	require.NoError(t, err)
	assert.Equal(t, BaseID, obj.Superclass())
	assert.Empty(t, obj.Subclasses())

	cmp, err := g.Class("java.lang.Comparable")
	require.NoError(t, err)
	assert.Empty(t, cmp.Implementors())

	assert.Contains(t, g.ClassNames(), "java.lang.Comparable")
}

func TestUnknownClass(t *testing.T) {
	prog, classes := loadShapes(t)
	g, err := New(prog, classes)
	require.NoError(t, err)

	_, err = g.Class("geo.Triangle")
	assert.True(t, errors.Is(err, bytecode.ErrClassNotFound))

	_, err = New(prog, append(classes, "geo.Missing"))
	assert.True(t, errors.Is(err, bytecode.ErrClassNotFound))
}
