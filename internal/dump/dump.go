// Package dump renders graph and plan snapshots for debugging.
package dump

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vk/apw/internal/graph"
)

// Format selects the output of Write.
type Format string

// Supported formats.
const (
	Text     Format = "text"
	Graphviz Format = "dot"
	JSON     Format = "json"
)

// Formats lists the supported formats.
var Formats = []Format{Text, Graphviz, JSON}

// ParseFormat validates s.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown dump format %q (want text, dot or json)", s)
}

// Write renders s to w in format f.
func Write(w io.Writer, f Format, s graph.Snapshot) error {
	switch f {
	case Text:
		return WriteText(w, s)
	case Graphviz:
		return WriteGraphviz(w, s)
	case JSON:
		return WriteJSON(w, s)
	default:
		return fmt.Errorf("unknown dump format %q", f)
	}
}

// WriteText renders an indented tree below each root. The header is bold
// when w is a terminal.
func WriteText(w io.Writer, s graph.Snapshot) error {
	header := lipgloss.NewRenderer(w).NewStyle().Bold(true)

	var b strings.Builder
	b.WriteString(header.Render(s.Name + ":"))
	b.WriteByte('\n')
	for _, r := range s.Roots {
		b.WriteString("== root\n")
		writeTree(&b, s, r, 1)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeTree(b *strings.Builder, s graph.Snapshot, id string, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(id)
	b.WriteByte('\n')
	for _, c := range s.Children[id] {
		writeTree(b, s, c, depth+1)
	}
}

// WriteGraphviz renders a dot digraph. Shared subtrees are emitted once.
func WriteGraphviz(w io.Writer, s graph.Snapshot) error {
	var b strings.Builder
	b.WriteString("digraph G {\n")
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		fmt.Fprintf(&b, "    %s;\n", strconv.Quote(id))
		for _, c := range s.Children[id] {
			fmt.Fprintf(&b, "    %s -> %s;\n", strconv.Quote(id), strconv.Quote(c))
		}
		for _, c := range s.Children[id] {
			walk(c)
		}
	}
	for _, r := range s.Roots {
		walk(r)
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

type jsonNode struct {
	ID       string   `json:"id"`
	Children []string `json:"children"`
}

type jsonSnapshot struct {
	Name  string     `json:"name"`
	Roots []string   `json:"roots"`
	Nodes []jsonNode `json:"nodes"`
}

// WriteJSON renders the snapshot as an indented JSON document.
func WriteJSON(w io.Writer, s graph.Snapshot) error {
	out := jsonSnapshot{
		Name:  s.Name,
		Roots: nonNil(s.Roots),
		Nodes: make([]jsonNode, 0, len(s.Nodes)),
	}
	for _, id := range s.Nodes {
		out.Nodes = append(out.Nodes, jsonNode{ID: id, Children: nonNil(s.Children[id])})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
