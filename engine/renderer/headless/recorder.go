package headless

import (
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

type CommandKind int

const (
	CmdBegin CommandKind = iota
	CmdPipelineBarrier
	CmdTransitionImages
	CmdBindRenderConfig
	CmdBindGeometry
	CmdDispatch
	CmdDrawIndexedIndirect
	CmdEnd
)

func (k CommandKind) String() string {
	switch k {
	case CmdBegin:
		return "begin"
	case CmdPipelineBarrier:
		return "pipeline_barrier"
	case CmdTransitionImages:
		return "transition_images"
	case CmdBindRenderConfig:
		return "bind_render_config"
	case CmdBindGeometry:
		return "bind_geometry"
	case CmdDispatch:
		return "dispatch"
	case CmdDrawIndexedIndirect:
		return "draw_indexed_indirect"
	case CmdEnd:
		return "end"
	}
	return "unknown"
}

// Command is one recorded call.
type Command struct {
	Kind         CommandKind
	Barriers     []metadata.BufferBarrier
	Transitions  []metadata.ImageTransition
	RenderConfig metadata.RenderConfigHandle
	Buffer       metadata.Buffer
	Offset       uint64
	Count        uint32
	Stride       uint32
	Groups       [3]uint32
	// Draws holds the decoded indirect commands at record time.
	Draws []metadata.IndirectCommand
}

// CommandList records commands instead of executing them.
type CommandList struct {
	Commands []Command
	open     bool
}

func (c *CommandList) Begin() error {
	c.Commands = c.Commands[:0]
	c.open = true
	c.Commands = append(c.Commands, Command{Kind: CmdBegin})
	return nil
}

func (c *CommandList) PipelineBarrier(barriers []metadata.BufferBarrier) {
	c.Commands = append(c.Commands, Command{
		Kind:     CmdPipelineBarrier,
		Barriers: append([]metadata.BufferBarrier(nil), barriers...),
	})
}

func (c *CommandList) TransitionImages(transitions []metadata.ImageTransition) {
	c.Commands = append(c.Commands, Command{
		Kind:        CmdTransitionImages,
		Transitions: append([]metadata.ImageTransition(nil), transitions...),
	})
}

func (c *CommandList) BindRenderConfig(config metadata.RenderConfigHandle) {
	c.Commands = append(c.Commands, Command{Kind: CmdBindRenderConfig, RenderConfig: config})
}

func (c *CommandList) BindGeometry(vertex, index metadata.Buffer) {
	c.Commands = append(c.Commands, Command{Kind: CmdBindGeometry, Buffer: vertex})
}

func (c *CommandList) Dispatch(x, y, z uint32) {
	c.Commands = append(c.Commands, Command{Kind: CmdDispatch, Groups: [3]uint32{x, y, z}})
}

func (c *CommandList) DrawIndexedIndirect(indirect metadata.Buffer, offset uint64, drawCount, stride uint32) {
	cmd := Command{
		Kind:   CmdDrawIndexedIndirect,
		Buffer: indirect,
		Offset: offset,
		Count:  drawCount,
		Stride: stride,
	}
	if data, err := indirect.Read(offset, uint64(drawCount)*uint64(stride)); err == nil {
		for i := uint32(0); i < drawCount; i++ {
			cmd.Draws = append(cmd.Draws, metadata.DecodeIndirectCommand(data[i*stride:]))
		}
	}
	c.Commands = append(c.Commands, cmd)
}

func (c *CommandList) End() error {
	c.open = false
	c.Commands = append(c.Commands, Command{Kind: CmdEnd})
	return nil
}

// Of returns the recorded commands of the given kind.
func (c *CommandList) Of(kind CommandKind) []Command {
	var out []Command
	for _, cmd := range c.Commands {
		if cmd.Kind == kind {
			out = append(out, cmd)
		}
	}
	return out
}
