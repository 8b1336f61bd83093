// Package cmdlist records command lists as typed command structs that a
// backend replays at execution time.
//
// Both bundled backends execute on a timeline that runs after recording has
// finished, so a list is captured as a slice of [Command] values and handed
// to a [Backend] by [Playback]. Recording errors are sticky and surface from
// Close, matching how explicit graphics APIs report recording misuse.
package cmdlist

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
)

// Type identifies a recorded command.
type Type uint8

const (
	CmdSetPipeline Type = iota
	CmdSetRootTable
	CmdSetRootConstantBuffer
	CmdBarrier
	CmdSetRenderTargets
	CmdClearRenderTarget
	CmdClearDepth
	CmdSetViewport
	CmdSetVertexBuffer
	CmdSetIndexBuffer
	CmdDraw
	CmdDrawIndexed
)

var typeNames = [...]string{
	CmdSetPipeline:           "SetPipeline",
	CmdSetRootTable:          "SetRootTable",
	CmdSetRootConstantBuffer: "SetRootConstantBuffer",
	CmdBarrier:               "Barrier",
	CmdSetRenderTargets:      "SetRenderTargets",
	CmdClearRenderTarget:     "ClearRenderTarget",
	CmdClearDepth:            "ClearDepth",
	CmdSetViewport:           "SetViewport",
	CmdSetVertexBuffer:       "SetVertexBuffer",
	CmdSetIndexBuffer:        "SetIndexBuffer",
	CmdDraw:                  "Draw",
	CmdDrawIndexed:           "DrawIndexed",
}

// String returns the command name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Command is one recorded command. Only the fields relevant to Type are set.
type Command struct {
	Type Type

	Pipeline gpucore.Pipeline

	// Index is the root parameter index.
	Index uint32

	// Handle is a GPU descriptor handle, GPU virtual address, or DSV handle.
	Handle uint64

	// Handles are RTV CPU handles.
	Handles []uint64

	Barriers []gpucore.Barrier
	Color    gputypes.Color
	Depth    float32
	Viewport gpucore.Viewport
	Buffer   gpucore.Buffer
	Stride   uint32

	Count     uint32
	Instances uint32
}

// Backend executes recorded commands. Returning an error stops playback.
type Backend interface {
	SetPipeline(p gpucore.Pipeline) error
	SetRootTable(index uint32, gpuHandle uint64) error
	SetRootConstantBuffer(index uint32, gpuAddress uint64) error
	Barrier(barriers []gpucore.Barrier) error
	SetRenderTargets(rtvs []uint64, dsv uint64) error
	ClearRenderTarget(rtv uint64, c gputypes.Color) error
	ClearDepth(dsv uint64, depth float32) error
	SetViewport(v gpucore.Viewport) error
	SetVertexBuffer(buf gpucore.Buffer, stride uint32) error
	SetIndexBuffer(buf gpucore.Buffer) error
	Draw(vertexCount, instanceCount uint32) error
	DrawIndexed(indexCount, instanceCount uint32) error
}

// Playback replays cmds to b in order.
func Playback(cmds []Command, b Backend) error {
	for i := range cmds {
		c := &cmds[i]
		var err error
		switch c.Type {
		case CmdSetPipeline:
			err = b.SetPipeline(c.Pipeline)
		case CmdSetRootTable:
			err = b.SetRootTable(c.Index, c.Handle)
		case CmdSetRootConstantBuffer:
			err = b.SetRootConstantBuffer(c.Index, c.Handle)
		case CmdBarrier:
			err = b.Barrier(c.Barriers)
		case CmdSetRenderTargets:
			err = b.SetRenderTargets(c.Handles, c.Handle)
		case CmdClearRenderTarget:
			err = b.ClearRenderTarget(c.Handle, c.Color)
		case CmdClearDepth:
			err = b.ClearDepth(c.Handle, c.Depth)
		case CmdSetViewport:
			err = b.SetViewport(c.Viewport)
		case CmdSetVertexBuffer:
			err = b.SetVertexBuffer(c.Buffer, c.Stride)
		case CmdSetIndexBuffer:
			err = b.SetIndexBuffer(c.Buffer)
		case CmdDraw:
			err = b.Draw(c.Count, c.Instances)
		case CmdDrawIndexed:
			err = b.DrawIndexed(c.Count, c.Instances)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
