package query

import (
	"strconv"
	"strings"
)

// Context owns the bind variables of one compiled statement. Every name it
// hands out is unique within the statement.
type Context struct {
	BindVars map[string]any
	seq      int
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{BindVars: map[string]any{}}
}

// Bind registers value under a fresh name derived from prefix and returns
// the name.
func (c *Context) Bind(prefix string, value any) string {
	c.seq++
	name := bindName(prefix) + "_" + strconv.Itoa(c.seq)
	c.BindVars[name] = value
	return name
}

// Set registers value under a fixed name such as "_id" or "@collection".
func (c *Context) Set(name string, value any) string {
	c.BindVars[name] = value
	return name
}

// bindName keeps the characters allowed in bind parameter names.
func bindName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}
