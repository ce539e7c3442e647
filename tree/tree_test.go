package tree

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/treesync/rpc"
)

func loadFixture(t *testing.T, l *Loader) *File {
	t.Helper()
	f, err := l.Load(filepath.Join("testdata", "main.yaml"))
	require.NoError(t, err)
	return f
}

func TestLoad(t *testing.T) {
	l := NewLoader()
	f := loadFixture(t, l)

	assert.Equal(t, "cmd/main.go", f.Path)
	assert.Equal(t, "cmd/main.go", f.IntrinsicID())
	assert.Equal(t, []string{"fmt", "os"}, f.Imports)
	require.Len(t, f.Body, 3)

	call, ok := f.Body[0].(*Call)
	require.True(t, ok)
	assert.Equal(t, "Println", call.Callee.Name)
	require.Len(t, call.Args, 2)

	lit := call.Args[0].(*Literal)
	ident := call.Args[1].(*Ident)
	assert.Same(t, lit.Type, ident.Type, "type refs are interned")
	assert.Equal(t, "map[string,int]", f.Body[1].(*Ident).Type.String())
	assert.Same(t, lit.Type, f.Body[1].(*Ident).Type.Params[0])

	require.Len(t, f.Markers, 2)
	assert.Equal(t, 2, f.Markers[0].Line, "markers sorted by line")
}

func TestLoadErrors(t *testing.T) {
	l := NewLoader()

	_, err := l.Parse("x.yaml", []byte("body:\n  - {}\n"))
	assert.Error(t, err)

	_, err = l.Parse("x.yaml", []byte("body:\n  - ident: {name: a, type: 'map[string'}\n"))
	assert.Error(t, err)

	_, err = l.Parse("", []byte("language: go\n"))
	assert.Error(t, err)

	_, err = l.Parse("x.yaml", []byte(":::"))
	assert.Error(t, err)
}

func TestTypesIntern(t *testing.T) {
	types := NewTypes()
	a, err := types.Intern("list[ int ]")
	require.NoError(t, err)
	b, err := types.Intern("list[int]")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 2, types.Len())

	none, err := types.Intern("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = types.Intern("list[int]]")
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	registry := NewRegistry()
	f := loadFixture(t, NewLoader())

	ops, err := rpc.Encode(registry, f)
	require.NoError(t, err)

	data, err := json.Marshal(ops)
	require.NoError(t, err)
	var wire []rpc.Op
	require.NoError(t, json.Unmarshal(data, &wire))

	got, err := rpc.Decode(registry, wire)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	back := got.(*File)
	lit := back.Body[0].(*Call).Args[0].(*Literal)
	ident := back.Body[0].(*Call).Args[1].(*Ident)
	assert.Same(t, lit.Type, ident.Type, "shared type survives the wire as one value")
}

func TestTypeRefsSentOnce(t *testing.T) {
	registry := NewRegistry()
	f := loadFixture(t, NewLoader())

	ops, err := rpc.Encode(registry, f)
	require.NoError(t, err)

	defs := map[int]int{}
	backs := 0
	for _, op := range ops {
		if op.Ref == nil {
			continue
		}
		if op.IsBackReference() {
			backs++
			continue
		}
		assert.Equal(t, KindTypeRef, op.ValueType)
		defs[*op.Ref]++
	}
	for ref, n := range defs {
		assert.Equal(t, 1, n, "ref %d defined once", ref)
	}
	assert.Positive(t, backs)
}

func diffOps(t *testing.T, registry *rpc.Registry, after, before *File) []rpc.Op {
	t.Helper()
	var ops []rpc.Op
	q := rpc.NewSendQueue(registry, rpc.NewRefTable(rpc.RefTableOptions{Logger: zap.NewNop().Sugar()}), 0, func(b []rpc.Op) error {
		ops = append(ops, b...)
		return nil
	})
	require.NoError(t, q.Send(after, before))
	require.NoError(t, q.Flush())
	return ops
}

func countAdds(ops []rpc.Op, kind rpc.Kind) int {
	n := 0
	for _, op := range ops {
		if op.State == rpc.Add && op.ValueType == kind {
			n++
		}
	}
	return n
}

func fixtureBytes(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "main.yaml"))
	require.NoError(t, err)
	return data
}

func TestIdenticalReloadIsNoChange(t *testing.T) {
	loader := NewLoader()
	before := loadFixture(t, loader)
	again := loadFixture(t, loader)
	require.Same(t, before, again)

	ops := diffOps(t, NewRegistry(), again, before)
	require.NotEmpty(t, ops)
	for _, op := range ops {
		assert.Equal(t, rpc.NoChange, op.State)
	}
}

func TestReloadReusesUnchangedStatements(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader()
	data := fixtureBytes(t)
	before, err := loader.Parse("", data)
	require.NoError(t, err)

	edited, err := loader.Parse("", []byte(strings.Replace(string(data), `value: "0"`, `value: "1"`, 1)))
	require.NoError(t, err)
	require.NotSame(t, before, edited)
	require.Len(t, edited.Body, 3)
	assert.Same(t, before.Body[0], edited.Body[0])
	assert.Same(t, before.Body[1], edited.Body[1])
	assert.NotSame(t, before.Body[2], edited.Body[2])
	assert.Same(t, before.Body[2].(*Call).Callee, edited.Body[2].(*Call).Callee)

	full, err := rpc.Encode(registry, edited)
	require.NoError(t, err)
	ops := diffOps(t, registry, edited, before)
	assert.Less(t, len(ops), len(full))
	assert.Equal(t, 1, countAdds(ops, KindCall), "only the edited call is re-sent")
	assert.Equal(t, 1, countAdds(ops, KindLiteral))

	recv := rpc.NewReceiveQueue(registry, nil, func() ([]rpc.Op, error) { return ops, nil })
	got, err := recv.Receive(before)
	require.NoError(t, err)
	assert.Equal(t, edited, got)
}

func TestReloadWithNewMarker(t *testing.T) {
	registry := NewRegistry()
	loader := NewLoader()
	data := fixtureBytes(t)
	before, err := loader.Parse("", data)
	require.NoError(t, err)

	after, err := loader.Parse("", append(append([]byte{}, data...), "  - {line: 9, severity: error, message: new}\n"...))
	require.NoError(t, err)
	require.Len(t, after.Markers, 3)
	assert.Same(t, before.Markers[0], after.Markers[0])

	ops := diffOps(t, registry, after, before)
	assert.Zero(t, countAdds(ops, KindCall))
	assert.Equal(t, 1, countAdds(ops, KindMarker))

	recv := rpc.NewReceiveQueue(registry, nil, func() ([]rpc.Op, error) { return ops, nil })
	got, err := recv.Receive(before)
	require.NoError(t, err)
	assert.Equal(t, after, got)
}

func TestReloadDuplicateStatements(t *testing.T) {
	loader := NewLoader()
	doc := []byte("path: d.go\nbody:\n  - ident: {name: x, type: int}\n  - ident: {name: x, type: int}\n")
	first, err := loader.Parse("", doc)
	require.NoError(t, err)
	require.NotSame(t, first.Body[0], first.Body[1])

	second, err := loader.Parse("", doc)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestForgetDropsBaseline(t *testing.T) {
	loader := NewLoader()
	first := loadFixture(t, loader)
	loader.Forget(first.Path)

	second := loadFixture(t, loader)
	assert.NotSame(t, first, second)
	assert.NotSame(t, first.Body[0], second.Body[0])
	assert.Equal(t, first, second)
}

func TestWalkAndCount(t *testing.T) {
	f := loadFixture(t, NewLoader())
	kinds := map[rpc.Kind]int{}
	Walk(f, func(n rpc.Node) bool {
		kinds[n.Kind()]++
		return n.Kind() != KindCall
	})
	assert.Equal(t, 1, kinds[KindFile])
	assert.Equal(t, 2, kinds[KindCall])
	assert.Equal(t, 0, kinds[KindLiteral], "children of skipped calls are not visited")
	assert.Equal(t, 2, kinds[KindMarker])
	assert.Greater(t, Count(f), 10)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(src, []byte("path: a.go\nimports: [fmt]\n"), 0o644))

	published := make(chan *File, 8)
	removed := make(chan string, 8)
	w, err := NewWatcher(dir, NewLoader(),
		func(f *File) error { published <- f; return nil },
		func(path string) error { removed <- path; return nil },
		zap.NewNop().Sugar())
	require.NoError(t, err)
	w.SetDebounce(100 * time.Millisecond)

	n, err := w.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	first := <-published
	assert.Equal(t, []string{"fmt"}, first.Imports)

	w.Start()
	defer w.Close()

	require.NoError(t, os.WriteFile(src, []byte("path: a.go\nimports: [fmt, os]\n"), 0o644))
	select {
	case f := <-published:
		assert.Equal(t, []string{"fmt", "os"}, f.Imports)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	require.NoError(t, os.Remove(src))
	select {
	case path := <-removed:
		assert.Equal(t, "a.go", path)
	case <-time.After(5 * time.Second):
		t.Fatal("no remove event")
	}
}
