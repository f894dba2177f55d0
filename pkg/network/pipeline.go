package network

import (
	"context"

	"go.uber.org/zap"

	"github.com/glennswest/sdnctl/pkg/packet"
)

// Verdict tells the pipeline whether later handlers should see a packet.
type Verdict int

const (
	Continue Verdict = iota
	Consumed
)

// PacketHandler processes one packet delivered to the controller.
type PacketHandler interface {
	HandlePacket(ctx context.Context, sw SwitchID, inPort uint32, frame *packet.Frame) Verdict
}

// PacketPipeline runs handlers in order until one consumes the packet.
type PacketPipeline struct {
	handlers []PacketHandler
	log      *zap.SugaredLogger
}

// NewPacketPipeline returns a pipeline over handlers, in order.
func NewPacketPipeline(log *zap.SugaredLogger, handlers ...PacketHandler) *PacketPipeline {
	return &PacketPipeline{handlers: handlers, log: log.Named("packet-in")}
}

// HandleFrame dispatches an already decoded frame. A handler that panics
// drops the packet; the caller keeps running.
func (p *PacketPipeline) HandleFrame(ctx context.Context, sw SwitchID, inPort uint32, frame *packet.Frame) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("packet handler panicked", "switch", sw, "port", inPort, "panic", r)
			v = Consumed
		}
	}()

	for _, h := range p.handlers {
		if h.HandlePacket(ctx, sw, inPort, frame) == Consumed {
			return Consumed
		}
	}
	return Continue
}

// HandleRaw decodes data and dispatches it. Undecodable frames are ignored.
func (p *PacketPipeline) HandleRaw(ctx context.Context, sw SwitchID, inPort uint32, data []byte) Verdict {
	frame, err := packet.Decode(data)
	if err != nil {
		p.log.Debugw("dropping undecodable packet", "switch", sw, "port", inPort, "error", err)
		return Continue
	}
	return p.HandleFrame(ctx, sw, inPort, frame)
}
