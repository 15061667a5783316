package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const hostSkeleton = `<!DOCTYPE html><html><head><title>QoS</title></head><body><div id="content"></div></body></html>`

// Document is a server-side DOM for the host page. All methods are safe for
// concurrent use.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// NewDocument returns an empty host page with a #content container.
func NewDocument() *Document {
	doc, err := ParseDocument(strings.NewReader(hostSkeleton))
	if err != nil {
		panic(fmt.Sprintf("host skeleton does not parse: %v", err))
	}
	return doc
}

// ParseDocument loads a host page.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse host page: %w", err)
	}
	return &Document{root: root}, nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// Has reports whether an element with the id exists.
func (d *Document) Has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return findByID(d.root, id) != nil
}

// Count returns how many elements carry the id.
func (d *Document) Count(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var walk func(*html.Node) int
	walk = func(n *html.Node) int {
		total := 0
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == id {
					total++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			total += walk(c)
		}
		return total
	}
	return walk(d.root)
}

// AppendFragment parses markup in the context of the parent element and
// appends the resulting nodes to it.
func (d *Document) AppendFragment(parentID, markup string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := findByID(d.root, parentID)
	if parent == nil {
		return fmt.Errorf("append to #%s: %w", parentID, ErrNoSuchElement)
	}
	context := &html.Node{Type: html.ElementNode, Data: parent.Data, DataAtom: parent.DataAtom}
	if context.DataAtom == 0 {
		context.Data, context.DataAtom = "div", atom.Div
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return fmt.Errorf("parse fragment for #%s: %w", parentID, err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

// Remove detaches the element with the id. It reports whether one was found.
func (d *Document) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil || n.Parent == nil {
		return false
	}
	n.Parent.RemoveChild(n)
	return true
}

func textOf(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textOf(c, sb)
	}
}

// Text returns the text content of the element, or "" if it is absent.
func (d *Document) Text(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return ""
	}
	var sb strings.Builder
	textOf(n, &sb)
	return sb.String()
}

// SetText replaces the children of the element with a single text node.
func (d *Document) SetText(id, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return fmt.Errorf("set text of #%s: %w", id, ErrNoSuchElement)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return nil
}

// SetAttr sets an attribute on the element.
func (d *Document) SetAttr(id, key, val string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return fmt.Errorf("set %s on #%s: %w", key, id, ErrNoSuchElement)
	}
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return nil
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	return nil
}

// Attr returns an attribute of the element, or "".
func (d *Document) Attr(id, key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findByID(d.root, id)
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Render writes the page as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the page, for logs and tests.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return err.Error()
	}
	return buf.String()
}

// DOMView renders the panel into a Document using the element ids of the
// browser page.
type DOMView struct {
	doc *Document
	log *zap.SugaredLogger
}

// ViewOption configures a DOMView.
type ViewOption func(*DOMView)

// WithViewLogger reports rendering failures to log.
func WithViewLogger(log *zap.SugaredLogger) ViewOption {
	return func(v *DOMView) { v.log = log }
}

// NewDOMView binds a view to the document.
func NewDOMView(doc *Document, opts ...ViewOption) *DOMView {
	v := &DOMView{doc: doc, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Document exposes the underlying page.
func (v *DOMView) Document() *Document { return v.doc }

func (v *DOMView) Mount(container string) error {
	if !v.doc.Has(container) {
		return fmt.Errorf("mount panel into #%s: %w", container, ErrNoSuchElement)
	}
	if !v.doc.Has(NamePanel) {
		if err := v.doc.AppendFragment(container, `<div id="`+NamePanel+`" class="panel"></div>`); err != nil {
			return err
		}
	}
	if err := v.doc.AppendFragment(container, `<div id="`+NameConsoleContainer+`" class="console_container"></div>`); err != nil {
		return err
	}
	return v.doc.AppendFragment(NameConsoleContainer, `<pre id="`+NameConsole+`" class="console"></pre>`)
}

func (v *DOMView) SetGauge(opt GaugeOption) {
	data, err := json.Marshal(opt)
	if err != nil {
		v.log.Warnf("Dropping gauge update: %v", err)
		return
	}
	v.setAttr(NamePanel, "data-option", string(data))
	v.setAttr(NamePanel, "data-value", strconv.FormatFloat(opt.Value(), 'f', -1, 64))
}

func (v *DOMView) AppendConsole(text string) {
	if err := v.doc.SetText(NameConsole, v.doc.Text(NameConsole)+text); err != nil {
		v.log.Warnf("Dropping %d bytes of console output: %v", len(text), err)
	}
}

// ScrollConsoleToBottom records scrollTop = scrollHeight on the console
// container, measured in lines of console text.
func (v *DOMView) ScrollConsoleToBottom() {
	height := strings.Count(v.doc.Text(NameConsole), "\n") + 1
	h := strconv.Itoa(height)
	v.setAttr(NameConsoleContainer, "data-scroll-height", h)
	v.setAttr(NameConsoleContainer, "data-scroll-top", h)
}

func (v *DOMView) setAttr(id, key, val string) {
	if err := v.doc.SetAttr(id, key, val); err != nil {
		v.log.Warnf("Render: %v", err)
	}
}

func (v *DOMView) Unmount() {
	v.doc.Remove(NameConsoleContainer)
}

// GaugeValue reads back the value last applied to #panel.
func (v *DOMView) GaugeValue() float64 {
	f, err := strconv.ParseFloat(v.doc.Attr(NamePanel, "data-value"), 64)
	if err != nil {
		return 0
	}
	return f
}

// ConsoleText returns the console text node contents.
func (v *DOMView) ConsoleText() string {
	return v.doc.Text(NameConsole)
}
