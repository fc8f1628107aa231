package trace

import (
	"strconv"
	"strings"
)

// Frame is one stage of the orchestration path.
type Frame struct {
	Stage   string
	Index   int
	Indexed bool // Index is meaningful, e.g. the Nth script of a batch
}

// Stage returns a frame naming a single stage.
func Stage(name string) Frame {
	return Frame{Stage: name}
}

// Indexed returns a frame naming the index-th iteration of a stage.
func Indexed(name string, index int) Frame {
	return Frame{Stage: name, Index: index, Indexed: true}
}

func (f Frame) String() string {
	if !f.Indexed {
		return f.Stage
	}
	return f.Stage + "," + strconv.Itoa(f.Index)
}

// Chain is an immutable list of frames, leaf first in memory.
// Push never modifies the receiver, so any number of children can be
// derived from the same parent without interfering with each other.
type Chain struct {
	parent *Chain
	frame  Frame
	depth  int
}

// Root starts a chain with a single stage.
func Root(stage string) *Chain {
	return &Chain{frame: Stage(stage), depth: 1}
}

// Push returns a new chain with f appended.
func (c *Chain) Push(f Frame) *Chain {
	if c == nil {
		return &Chain{frame: f, depth: 1}
	}
	return &Chain{parent: c, frame: f, depth: c.depth + 1}
}

// Len returns the number of frames.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return c.depth
}

// Leaf returns the most recently pushed frame.
func (c *Chain) Leaf() (Frame, bool) {
	if c == nil {
		return Frame{}, false
	}
	return c.frame, true
}

// Frames returns the frames root first.
func (c *Chain) Frames() []Frame {
	frames := make([]Frame, c.Len())
	for n, i := c, c.Len()-1; n != nil; n, i = n.parent, i-1 {
		frames[i] = n.frame
	}
	return frames
}

// String renders the chain as "root|stage|stage,N".
func (c *Chain) String() string {
	frames := c.Frames()
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = f.String()
	}
	return strings.Join(parts, "|")
}
