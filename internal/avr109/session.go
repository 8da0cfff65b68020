package avr109

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Quirkbot/avr109-flasher/internal/codec"
	"github.com/Quirkbot/avr109-flasher/internal/protocol"
	"github.com/Quirkbot/avr109-flasher/internal/serial"
)

func (b *Board) sessionLog() logrus.FieldLogger {
	b.mu.Lock()
	id := b.connectionID
	b.mu.Unlock()
	return b.log.WithField("connection", id)
}

// readDispatcher routes received data to the pending read handler. The
// handler slot is emptied on delivery, so each request sees one response.
func (b *Board) readDispatcher(info serial.ReceiveInfo) {
	b.mu.Lock()
	handler := b.readHandler
	ours := info.ConnectionID == b.connectionID
	if ours && handler != nil {
		b.readHandler = nil
	}
	b.mu.Unlock()

	entry := b.log.WithFields(logrus.Fields{"connection": info.ConnectionID, "data": codec.HexRep(info.Data)})
	if !ours {
		entry.Debug("Dropping data from another connection")
		return
	}
	if handler == nil {
		entry.Debug("No read handler")
		return
	}

	entry.Trace("recv")
	handler <- info.Data
}

func (b *Board) setReadHandler(handler chan []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readHandler = handler
	return b.connectionID
}

func (b *Board) clearReadHandler(handler chan []byte) {
	b.mu.Lock()
	if b.readHandler == handler {
		b.readHandler = nil
	}
	b.mu.Unlock()
}

// writeAndGetReply installs a fresh read handler, then sends payload and
// waits for the single response routed to that handler.
func (b *Board) writeAndGetReply(ctx context.Context, payload []byte) ([]byte, error) {
	handler := make(chan []byte, 1)
	id := b.setReadHandler(handler)

	b.log.WithFields(logrus.Fields{"connection": id, "data": codec.HexRep(payload)}).Trace("send")

	if err := b.transport.Send(ctx, id, payload); err != nil {
		b.clearReadHandler(handler)
		return nil, fmt.Errorf("send %s: %w", protocol.CommandName(payload[0]), err)
	}

	select {
	case reply := <-handler:
		return reply, nil
	case <-ctx.Done():
		b.clearReadHandler(handler)
		return nil, fmt.Errorf("waiting for %s reply: %w", protocol.CommandName(payload[0]), ctx.Err())
	}
}

// expectAck sends payload and fails with a ProtocolError for step unless
// the reply is a lone carriage return.
func (b *Board) expectAck(ctx context.Context, step string, payload []byte) error {
	reply, err := b.writeAndGetReply(ctx, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if !protocol.IsAck(reply) {
		return protocolError(step, reply)
	}
	return nil
}

func (b *Board) serialConnected(ctx context.Context, path string, info serial.ConnectionInfo) error {
	if info.ConnectionID == serial.InvalidConnectionID {
		return fmt.Errorf("%w: %s returned no connection", ErrConnectFailed, path)
	}

	b.mu.Lock()
	b.connectionID = info.ConnectionID
	b.mu.Unlock()

	remove := b.transport.OnReceive(b.readDispatcher)

	b.mu.Lock()
	b.removeListener = remove
	b.mu.Unlock()

	return b.checkSoftwareVersion(ctx)
}

func (b *Board) checkSoftwareVersion(ctx context.Context) error {
	reply, err := b.writeAndGetReply(ctx, protocol.SoftwareVersionRequest())
	if err != nil {
		return fmt.Errorf("%s: %w", StepSoftwareVersion, err)
	}
	if !protocol.IsSoftwareVersion(reply) {
		return protocolError(StepSoftwareVersion, reply)
	}

	b.mu.Lock()
	b.version = append([]byte(nil), reply...)
	b.state = Connected
	b.mu.Unlock()

	b.sessionLog().WithField("version", protocol.FormatSoftwareVersion(reply)).Info("Connected to bootloader")
	return nil
}

func (b *Board) program(ctx context.Context, boardAddress uint32, data []byte) error {
	if err := b.expectAck(ctx, StepEnterProgramMode, protocol.EnterProgramModeRequest()); err != nil {
		return err
	}

	if err := b.expectAck(ctx, StepSetAddress, protocol.SetAddressRequest(boardAddress)); err != nil {
		return err
	}

	// The bootloader advances its address after every page
	numPages := len(data) / b.pageSize
	for pageNo := 0; pageNo < numPages; pageNo++ {
		if err := b.writePage(ctx, pageNo, numPages, data); err != nil {
			return err
		}
	}

	if err := b.expectAck(ctx, StepLeaveProgramMode, protocol.LeaveProgramModeRequest()); err != nil {
		return err
	}

	return b.exitBootloader(ctx)
}

func (b *Board) writePage(ctx context.Context, pageNo, numPages int, data []byte) error {
	if pageNo == 0 || pageNo == numPages-1 || (pageNo+1)%5 == 0 {
		b.sessionLog().Debugf("Writing page %d of %d", pageNo+1, numPages)
	}

	page := data[pageNo*b.pageSize : (pageNo+1)*b.pageSize]

	reply, err := b.writeAndGetReply(ctx, protocol.WritePageRequest(page))
	if err != nil {
		return fmt.Errorf("%s %d: %w", StepWritePage, pageNo, err)
	}
	if !protocol.IsAck(reply) {
		return &ProtocolError{Step: StepWritePage, Page: pageNo, Reply: append([]byte(nil), reply...)}
	}

	if b.cfg.progress != nil {
		b.cfg.progress(pageNo+1, numPages)
	}
	return nil
}

func (b *Board) exitBootloader(ctx context.Context) error {
	return b.expectAck(ctx, StepExitBootloader, protocol.ExitBootloaderRequest())
}
