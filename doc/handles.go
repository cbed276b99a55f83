package doc

import (
	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/ol"
)

// read runs fn on the container cid under the document lock. fn is not
// called for a container that does not exist yet.
func read[T container.State](d *Document, cid ol.ContainerID, fn func(T)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.containers[cid].(T); ok {
		fn(s)
	}
}

// TextHandle edits one text container by visible rune position.
type TextHandle struct {
	doc *Document
	id  ol.ContainerID
}

func (d *Document) Text(name string) *TextHandle {
	return &TextHandle{doc: d, id: ol.Text(name)}
}

func (h *TextHandle) ID() ol.ContainerID { return h.id }

func (h *TextHandle) Insert(pos int, s string) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.InsertText{Pos: pos, Text: s})
}

func (h *TextHandle) Delete(pos, n int) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.DeleteText{Pos: pos, Len: n})
}

func (h *TextHandle) String() string {
	var out string
	read(h.doc, h.id, func(t *container.Text) { out = t.String() })
	return out
}

func (h *TextHandle) Len() int {
	var n int
	read(h.doc, h.id, func(t *container.Text) { n = t.Len() })
	return n
}

type ListHandle struct {
	doc *Document
	id  ol.ContainerID
}

func (d *Document) List(name string) *ListHandle {
	return &ListHandle{doc: d, id: ol.List(name)}
}

func (h *ListHandle) ID() ol.ContainerID { return h.id }

func (h *ListHandle) Insert(pos int, values ...any) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.InsertList{Pos: pos, Values: values})
}

// Push appends values at the end of the list.
func (h *ListHandle) Push(values ...any) (ol.ID, error) {
	d := h.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	if l, ok := d.containers[h.id].(*container.List); ok {
		n = l.Len()
	}
	return d.applyLocal(h.id, container.InsertList{Pos: n, Values: values})
}

func (h *ListHandle) Delete(pos, n int) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.DeleteList{Pos: pos, Len: n})
}

func (h *ListHandle) Values() []any {
	var out []any
	read(h.doc, h.id, func(l *container.List) { out = l.Values() })
	return out
}

func (h *ListHandle) Len() int {
	var n int
	read(h.doc, h.id, func(l *container.List) { n = l.Len() })
	return n
}

type MapHandle struct {
	doc *Document
	id  ol.ContainerID
}

func (d *Document) Map(name string) *MapHandle {
	return &MapHandle{doc: d, id: ol.Map(name)}
}

func (h *MapHandle) ID() ol.ContainerID { return h.id }

func (h *MapHandle) Set(key string, value any) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.SetKey{Key: key, Value: value})
}

func (h *MapHandle) Delete(key string) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.DeleteKey{Key: key})
}

func (h *MapHandle) Get(key string) (any, bool) {
	var (
		v  any
		ok bool
	)
	read(h.doc, h.id, func(m *container.Map) { v, ok = m.Get(key) })
	return v, ok
}

// Value returns the live entries; it is never nil.
func (h *MapHandle) Value() map[string]any {
	out := map[string]any{}
	read(h.doc, h.id, func(m *container.Map) { out = m.Value().(map[string]any) })
	return out
}

// TreeHandle edits one movable tree. The zero ID names the root level.
type TreeHandle struct {
	doc *Document
	id  ol.ContainerID
}

func (d *Document) Tree(name string) *TreeHandle {
	return &TreeHandle{doc: d, id: ol.Tree(name)}
}

func (h *TreeHandle) ID() ol.ContainerID { return h.id }

// Create adds a node under parent at sibling index and returns its id.
func (h *TreeHandle) Create(parent ol.ID, index int) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.CreateNode{Parent: parent, Index: index})
}

func (h *TreeHandle) Move(node, parent ol.ID, index int) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.MoveNode{Node: node, Parent: parent, Index: index})
}

func (h *TreeHandle) Delete(node ol.ID) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.DeleteNode{Node: node})
}

func (h *TreeHandle) SetMeta(node ol.ID, key string, value any) (ol.ID, error) {
	return h.doc.ApplyLocal(h.id, container.SetNodeMeta{Node: node, Key: key, Value: value})
}

func (h *TreeHandle) Children(parent ol.ID) []ol.ID {
	var out []ol.ID
	read(h.doc, h.id, func(t *container.Tree) { out = t.Children(parent) })
	return out
}

func (h *TreeHandle) Parent(node ol.ID) (ol.ID, bool) {
	var (
		p  ol.ID
		ok bool
	)
	read(h.doc, h.id, func(t *container.Tree) { p, ok = t.Parent(node) })
	return p, ok
}

func (h *TreeHandle) Nodes() []container.TreeNode {
	var out []container.TreeNode
	read(h.doc, h.id, func(t *container.Tree) { out = t.Nodes() })
	return out
}
