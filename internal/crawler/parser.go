// Package crawler fetches policy pages and turns them into raw policy records.
package crawler

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"policywatch/pkg/utils"
)

// Default patterns used when a source does not configure its own.
const (
	DefaultSectionPattern     = `visa|immigration|work`
	DefaultRequirementPattern = `require|need|must`
)

// maxDepth bounds recursion on pathological documents.
const maxDepth = 200

// Section is one policy block found on a page.
type Section struct {
	ID           string
	Title        string
	Description  string
	Fee          string
	Requirements []string
}

// Parser extracts policy sections from HTML pages.
type Parser struct {
	section     *regexp.Regexp
	requirement *regexp.Regexp
	strings     *utils.StringHelper
}

// NewParser creates a parser. Empty patterns fall back to the defaults.
func NewParser(sectionPattern, requirementPattern string) (*Parser, error) {
	if sectionPattern == "" {
		sectionPattern = DefaultSectionPattern
	}

	if requirementPattern == "" {
		requirementPattern = DefaultRequirementPattern
	}

	section, err := regexp.Compile(sectionPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid section pattern: %w", err)
	}

	requirement, err := regexp.Compile(requirementPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid requirement pattern: %w", err)
	}

	return &Parser{
		section:     section,
		requirement: requirement,
		strings:     utils.NewStringHelper(),
	}, nil
}

// ParseSections returns every div or section element whose class matches the
// section pattern and that has a heading. Matched sections are not searched
// for nested sections.
func (p *Parser) ParseSections(page string) ([]Section, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var sections []Section

	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth > maxDepth {
			return
		}

		if isElement(n, "div", "section") && p.section.MatchString(getAttr(n, "class")) {
			if s, ok := p.parseSection(n); ok {
				sections = append(sections, s)
			}

			return
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}

	walk(doc, 0)

	return sections, nil
}

func (p *Parser) parseSection(n *html.Node) (Section, bool) {
	heading := findFirst(n, "h1", "h2", "h3", "h4")
	if heading == nil {
		return Section{}, false
	}

	title := p.text(heading)
	if title == "" {
		return Section{}, false
	}

	s := Section{
		ID:           getAttr(n, "id"),
		Title:        title,
		Requirements: []string{},
	}

	if s.ID == "" {
		s.ID = getAttr(heading, "id")
	}

	if desc := findFirst(n, "p", "div"); desc != nil {
		s.Description = p.text(desc)
	}

	forEach(n, func(el *html.Node) {
		if !isElement(el, "li", "p") {
			return
		}

		text := p.text(el)
		if text == "" {
			return
		}

		if s.Fee == "" && isElement(el, "li") && looksLikeFee(text) {
			s.Fee = text
		}

		if p.requirement.MatchString(text) {
			s.Requirements = append(s.Requirements, text)
		}
	})

	return s, true
}

func (p *Parser) text(n *html.Node) string {
	var sb strings.Builder

	extractText(n, &sb, 0)

	return p.strings.NormalizeWhitespace(sb.String())
}

func looksLikeFee(text string) bool {
	return strings.Contains(strings.ToLower(text), "fee") || strings.Contains(text, "$")
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "svg":
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}

// findFirst returns the first descendant of n, in document order, with one of
// the given tag names.
func findFirst(n *html.Node, tags ...string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, tags...) {
			return c
		}

		if found := findFirst(c, tags...); found != nil {
			return found
		}
	}

	return nil
}

// forEach visits every element descendant of n in document order.
func forEach(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}

		forEach(c, fn)
	}
}

func isElement(n *html.Node, tags ...string) bool {
	if n.Type != html.ElementNode {
		return false
	}

	for _, tag := range tags {
		if n.Data == tag {
			return true
		}
	}

	return false
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}

	return ""
}
