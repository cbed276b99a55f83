package sim

import (
	"errors"
	"math/rand/v2"

	"github.com/kevinxiao27/crdoc/container"
	"github.com/kevinxiao27/crdoc/doc"
	"github.com/kevinxiao27/crdoc/ol"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

var mapKeys = []string{"title", "owner", "done", "score"}

func word(r *rand.Rand) string {
	b := make([]byte, 1+r.IntN(4))
	for i := range b {
		b[i] = alphabet[r.IntN(len(alphabet))]
	}
	return string(b)
}

func scalar(r *rand.Rand) any {
	switch r.IntN(4) {
	case 0:
		return r.Int64N(1000)
	case 1:
		return word(r)
	case 2:
		return r.IntN(2) == 0
	}
	return []any{word(r), r.Float64()}
}

// randomEdit applies one random edit to d. It reports false when the edit
// was a tree move the document refused because it would create a cycle.
func randomEdit(r *rand.Rand, d *doc.Document) (bool, error) {
	var err error
	switch r.IntN(10) {
	case 0, 1, 2:
		t := d.Text("body")
		_, err = t.Insert(r.IntN(t.Len()+1), word(r))
	case 3:
		t := d.Text("body")
		if n := t.Len(); n > 0 {
			pos := r.IntN(n)
			_, err = t.Delete(pos, 1+r.IntN(min(3, n-pos)))
		}
	case 4:
		l := d.List("items")
		_, err = l.Insert(r.IntN(l.Len()+1), scalar(r))
	case 5:
		l := d.List("items")
		if n := l.Len(); n > 0 {
			_, err = l.Delete(r.IntN(n), 1)
		}
	case 6:
		_, err = d.Map("props").Set(mapKeys[r.IntN(len(mapKeys))], scalar(r))
	case 7:
		_, err = d.Map("props").Delete(mapKeys[r.IntN(len(mapKeys))])
	default:
		return treeEdit(r, d.Tree("outline"))
	}
	return true, err
}

func flatten(nodes []container.TreeNode, out []ol.ID) []ol.ID {
	for _, n := range nodes {
		out = append(out, n.ID)
		out = flatten(n.Children, out)
	}
	return out
}

func treeEdit(r *rand.Rand, t *doc.TreeHandle) (bool, error) {
	nodes := flatten(t.Nodes(), nil)
	parent := ol.ID{}
	if len(nodes) > 0 && r.IntN(2) == 0 {
		parent = nodes[r.IntN(len(nodes))]
	}
	if len(nodes) == 0 || r.IntN(3) == 0 {
		_, err := t.Create(parent, r.IntN(len(t.Children(parent))+1))
		return true, err
	}

	node := nodes[r.IntN(len(nodes))]
	var err error
	switch r.IntN(4) {
	case 0:
		_, err = t.Delete(node)
	case 1:
		_, err = t.SetMeta(node, mapKeys[r.IntN(len(mapKeys))], scalar(r))
	default:
		siblings := len(t.Children(parent))
		if p, _ := t.Parent(node); p == parent {
			siblings--
		}
		_, err = t.Move(node, parent, r.IntN(siblings+1))
		if errors.Is(err, doc.ErrCycleDetected) {
			return false, nil
		}
	}
	return true, err
}
