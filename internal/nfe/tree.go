package nfe

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// element is a namespace-free view of one XML node. Text nodes have an
// empty name and carry their character data in data.
type element struct {
	name     string
	attrs    map[string]string
	children []*element
	data     string
}

// readTree decodes the whole document. Element and attribute names keep
// only their local part, so default and prefixed namespaces are ignored.
func readTree(r io.Reader) (*element, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	root := &element{}
	stack := []*element{root}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml inválido: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, el)
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if parent := stack[len(stack)-1]; parent != root {
				parent.children = append(parent.children, &element{data: string(t)})
			}
		}
	}
	if len(root.children) == 0 {
		return nil, errors.New("xml inválido: documento vazio")
	}
	return root, nil
}

// first returns the first descendant named name in document order.
func (e *element) first(name string) *element {
	if e == nil {
		return nil
	}
	for _, c := range e.children {
		if c.name == name {
			return c
		}
		if found := c.first(name); found != nil {
			return found
		}
	}
	return nil
}

// all returns every descendant named name in document order.
func (e *element) all(name string) []*element {
	if e == nil {
		return nil
	}
	var out []*element
	for _, c := range e.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.all(name)...)
	}
	return out
}

// textContent concatenates every descendant text node in document order.
func (e *element) textContent() string {
	if e.name == "" {
		return e.data
	}
	var b strings.Builder
	e.writeText(&b)
	return b.String()
}

func (e *element) writeText(b *strings.Builder) {
	for _, c := range e.children {
		if c.name == "" {
			b.WriteString(c.data)
			continue
		}
		c.writeText(b)
	}
}

// textOf is the text content of the first descendant named name, or "".
func (e *element) textOf(name string) string {
	if found := e.first(name); found != nil {
		return strings.TrimSpace(found.textContent())
	}
	return ""
}

func (e *element) attr(name string) string {
	if e == nil {
		return ""
	}
	return e.attrs[name]
}
