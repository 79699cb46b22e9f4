package middleware

import (
	"fmt"
	"net/http"
	"slices"
)

type chainedHandler struct {
	name    string
	handler func(next http.Handler) http.Handler
}

// Chain is an ordered, named list of middleware. The first entry is the
// outermost handler.
type Chain struct {
	handlers []chainedHandler
}

// Append adds handler as the innermost entry.
func (c *Chain) Append(name string, handler func(next http.Handler) http.Handler) {
	c.handlers = append(c.handlers, chainedHandler{name: name, handler: handler})
}

// Prepend adds handler as the outermost entry.
func (c *Chain) Prepend(name string, handler func(next http.Handler) http.Handler) {
	c.handlers = slices.Insert(c.handlers, 0, chainedHandler{name: name, handler: handler})
}

// InsertBefore adds handler directly outside the entry called target.
func (c *Chain) InsertBefore(target, name string, handler func(next http.Handler) http.Handler) error {
	i := c.index(target)
	if i < 0 {
		return fmt.Errorf("handler %s not found", target)
	}
	c.handlers = slices.Insert(c.handlers, i, chainedHandler{name: name, handler: handler})
	return nil
}

// InsertAfter adds handler directly inside the entry called target.
func (c *Chain) InsertAfter(target, name string, handler func(next http.Handler) http.Handler) error {
	i := c.index(target)
	if i < 0 {
		return fmt.Errorf("handler %s not found", target)
	}
	c.handlers = slices.Insert(c.handlers, i+1, chainedHandler{name: name, handler: handler})
	return nil
}

// Remove deletes the entry called name.
func (c *Chain) Remove(name string) error {
	i := c.index(name)
	if i < 0 {
		return fmt.Errorf("handler %s not found", name)
	}
	c.handlers = slices.Delete(c.handlers, i, i+1)
	return nil
}

// List returns the entry names, outermost first.
func (c *Chain) List() []string {
	names := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		names[i] = h.name
	}
	return names
}

// Handler returns h wrapped by every entry of the chain.
func (c *Chain) Handler(h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	for i := len(c.handlers) - 1; i >= 0; i-- {
		h = c.handlers[i].handler(h)
	}
	return h
}

func (c *Chain) index(name string) int {
	return slices.IndexFunc(c.handlers, func(h chainedHandler) bool { return h.name == name })
}
