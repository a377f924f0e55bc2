package metadata

import (
	"fmt"
	"strings"
)

// AccessFlags mirrors VkAccessFlagBits.
type AccessFlags uint32

const (
	AccessIndirectCommandRead         AccessFlags = 0x00000001
	AccessIndexRead                   AccessFlags = 0x00000002
	AccessVertexAttributeRead         AccessFlags = 0x00000004
	AccessUniformRead                 AccessFlags = 0x00000008
	AccessInputAttachmentRead         AccessFlags = 0x00000010
	AccessShaderRead                  AccessFlags = 0x00000020
	AccessShaderWrite                 AccessFlags = 0x00000040
	AccessColorAttachmentRead         AccessFlags = 0x00000080
	AccessColorAttachmentWrite        AccessFlags = 0x00000100
	AccessDepthStencilAttachmentRead  AccessFlags = 0x00000200
	AccessDepthStencilAttachmentWrite AccessFlags = 0x00000400
	AccessTransferRead                AccessFlags = 0x00000800
	AccessTransferWrite               AccessFlags = 0x00001000
	AccessHostRead                    AccessFlags = 0x00002000
	AccessHostWrite                   AccessFlags = 0x00004000
	AccessMemoryRead                  AccessFlags = 0x00008000
	AccessMemoryWrite                 AccessFlags = 0x00010000

	accessWriteMask = AccessShaderWrite | AccessColorAttachmentWrite | AccessDepthStencilAttachmentWrite |
		AccessTransferWrite | AccessHostWrite | AccessMemoryWrite
)

// IsWrite reports whether any bit is a write access.
func (a AccessFlags) IsWrite() bool {
	return a&accessWriteMask != 0
}

var accessNames = []struct {
	flag AccessFlags
	name string
}{
	{AccessIndirectCommandRead, "INDIRECT_COMMAND_READ"},
	{AccessIndexRead, "INDEX_READ"},
	{AccessVertexAttributeRead, "VERTEX_ATTRIBUTE_READ"},
	{AccessUniformRead, "UNIFORM_READ"},
	{AccessInputAttachmentRead, "INPUT_ATTACHMENT_READ"},
	{AccessShaderRead, "SHADER_READ"},
	{AccessShaderWrite, "SHADER_WRITE"},
	{AccessColorAttachmentRead, "COLOR_ATTACHMENT_READ"},
	{AccessColorAttachmentWrite, "COLOR_ATTACHMENT_WRITE"},
	{AccessDepthStencilAttachmentRead, "DEPTH_STENCIL_ATTACHMENT_READ"},
	{AccessDepthStencilAttachmentWrite, "DEPTH_STENCIL_ATTACHMENT_WRITE"},
	{AccessTransferRead, "TRANSFER_READ"},
	{AccessTransferWrite, "TRANSFER_WRITE"},
	{AccessHostRead, "HOST_READ"},
	{AccessHostWrite, "HOST_WRITE"},
	{AccessMemoryRead, "MEMORY_READ"},
	{AccessMemoryWrite, "MEMORY_WRITE"},
}

func (a AccessFlags) String() string {
	if a == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range accessNames {
		if a&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// StageFlags mirrors VkPipelineStageFlagBits.
type StageFlags uint32

const (
	StageTopOfPipe                    StageFlags = 0x00000001
	StageDrawIndirect                 StageFlags = 0x00000002
	StageVertexInput                  StageFlags = 0x00000004
	StageVertexShader                 StageFlags = 0x00000008
	StageTessellationControlShader    StageFlags = 0x00000010
	StageTessellationEvaluationShader StageFlags = 0x00000020
	StageGeometryShader               StageFlags = 0x00000040
	StageFragmentShader               StageFlags = 0x00000080
	StageEarlyFragmentTests           StageFlags = 0x00000100
	StageLateFragmentTests            StageFlags = 0x00000200
	StageColorAttachmentOutput        StageFlags = 0x00000400
	StageComputeShader                StageFlags = 0x00000800
	StageTransfer                     StageFlags = 0x00001000
	StageBottomOfPipe                 StageFlags = 0x00002000
	StageHost                         StageFlags = 0x00004000
	StageAllGraphics                  StageFlags = 0x00008000
	StageAllCommands                  StageFlags = 0x00010000

	stageShaders = StageVertexShader | StageTessellationControlShader | StageTessellationEvaluationShader |
		StageGeometryShader | StageFragmentShader | StageComputeShader
	stageGraphics = StageDrawIndirect | StageVertexInput | StageVertexShader | StageTessellationControlShader |
		StageTessellationEvaluationShader | StageGeometryShader | StageFragmentShader |
		StageEarlyFragmentTests | StageLateFragmentTests | StageColorAttachmentOutput
)

var stageNames = []struct {
	flag StageFlags
	name string
}{
	{StageTopOfPipe, "TOP_OF_PIPE"},
	{StageDrawIndirect, "DRAW_INDIRECT"},
	{StageVertexInput, "VERTEX_INPUT"},
	{StageVertexShader, "VERTEX_SHADER"},
	{StageTessellationControlShader, "TESSELLATION_CONTROL_SHADER"},
	{StageTessellationEvaluationShader, "TESSELLATION_EVALUATION_SHADER"},
	{StageGeometryShader, "GEOMETRY_SHADER"},
	{StageFragmentShader, "FRAGMENT_SHADER"},
	{StageEarlyFragmentTests, "EARLY_FRAGMENT_TESTS"},
	{StageLateFragmentTests, "LATE_FRAGMENT_TESTS"},
	{StageColorAttachmentOutput, "COLOR_ATTACHMENT_OUTPUT"},
	{StageComputeShader, "COMPUTE_SHADER"},
	{StageTransfer, "TRANSFER"},
	{StageBottomOfPipe, "BOTTOM_OF_PIPE"},
	{StageHost, "HOST"},
	{StageAllGraphics, "ALL_GRAPHICS"},
	{StageAllCommands, "ALL_COMMANDS"},
}

func (s StageFlags) String() string {
	if s == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range stageNames {
		if s&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// SupportedAccess returns the access bits that the given stages can perform.
func (s StageFlags) SupportedAccess() AccessFlags {
	var a AccessFlags = AccessMemoryRead | AccessMemoryWrite
	if s&StageAllCommands != 0 {
		return ^AccessFlags(0)
	}
	stages := s
	if stages&StageAllGraphics != 0 {
		stages |= stageGraphics
	}
	if stages&StageDrawIndirect != 0 {
		a |= AccessIndirectCommandRead
	}
	if stages&StageVertexInput != 0 {
		a |= AccessIndexRead | AccessVertexAttributeRead
	}
	if stages&stageShaders != 0 {
		a |= AccessUniformRead | AccessShaderRead | AccessShaderWrite
	}
	if stages&StageFragmentShader != 0 {
		a |= AccessInputAttachmentRead
	}
	if stages&StageColorAttachmentOutput != 0 {
		a |= AccessColorAttachmentRead | AccessColorAttachmentWrite
	}
	if stages&(StageEarlyFragmentTests|StageLateFragmentTests) != 0 {
		a |= AccessDepthStencilAttachmentRead | AccessDepthStencilAttachmentWrite
	}
	if stages&StageTransfer != 0 {
		a |= AccessTransferRead | AccessTransferWrite
	}
	if stages&StageHost != 0 {
		a |= AccessHostRead | AccessHostWrite
	}
	return a
}

// ResourceID names a buffer or image tracked across the passes of a frame.
type ResourceID string

// BufferBarrier orders the accesses before a pass against the accesses of
// that pass and the ones grouped with it.
type BufferBarrier struct {
	Resource   ResourceID
	BeforePass int
	SrcAccess  AccessFlags
	DstAccess  AccessFlags
	SrcStage   StageFlags
	DstStage   StageFlags
}

func (b BufferBarrier) String() string {
	return fmt.Sprintf("%s before pass %d: %s/%s -> %s/%s", b.Resource, b.BeforePass, b.SrcStage, b.SrcAccess, b.DstStage, b.DstAccess)
}

// ImageLayout mirrors VkImageLayout for the layouts the engine uses.
type ImageLayout int32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutGeneral                ImageLayout = 1
	ImageLayoutColorAttachmentOptimal ImageLayout = 2
	ImageLayoutShaderReadOnlyOptimal  ImageLayout = 5
	ImageLayoutTransferSrcOptimal     ImageLayout = 6
	ImageLayoutTransferDstOptimal     ImageLayout = 7
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

// ImageTransition is a pending layout change of one image.
type ImageTransition struct {
	Image     Image
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
	SrcStage  StageFlags
	DstStage  StageFlags
}

// UploadTransitions returns the Undefined -> TransferDst -> ShaderReadOnly
// pair every freshly created sampled image goes through.
func UploadTransitions(img Image) []ImageTransition {
	return []ImageTransition{
		{
			Image:     img,
			OldLayout: ImageLayoutUndefined,
			NewLayout: ImageLayoutTransferDstOptimal,
			DstAccess: AccessTransferWrite,
			SrcStage:  StageTopOfPipe,
			DstStage:  StageTransfer,
		},
		{
			Image:     img,
			OldLayout: ImageLayoutTransferDstOptimal,
			NewLayout: ImageLayoutShaderReadOnlyOptimal,
			SrcAccess: AccessTransferWrite,
			DstAccess: AccessShaderRead,
			SrcStage:  StageTransfer,
			DstStage:  StageFragmentShader,
		},
	}
}
