package transport

import (
	"net"
	"time"

	"github.com/go-kit/kit/log"
	cc "github.com/msackman/chancell"

	"github.com/rain168/paxoskv"
)

type outboundFrame struct {
	to  paxoskv.Peer
	msg paxoskv.Message
}

// UDP is the real-network Transport (spec §6's "UDP or similar
// unreliable transport" collaborator). Sends are queued through a
// chancell generational channel, the same actor-loop send-queue shape
// the teacher's network.ConnectionManager uses for its outbound query
// channel. Close terminates that queue and then closes the socket; it
// does not wait for sends already queued to be written.
type UDP struct {
	logger log.Logger
	conn   *net.UDPConn

	sendCh   chan outboundFrame
	cellTail *cc.ChanCellTail
}

func ListenUDP(logger log.Logger, addr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	u := &UDP{logger: logger, conn: conn}
	var head *cc.ChanCellHead
	head, u.cellTail = cc.NewChanCellTail(func(n int, cell *cc.ChanCell) {
		sendCh := make(chan outboundFrame, n)
		cell.Open = func() { u.sendCh = sendCh }
		cell.Close = func() { close(sendCh) }
	})
	go u.sendLoop(head)
	return u, nil
}

func (u *UDP) sendLoop(head *cc.ChanCellHead) {
	var sendCh chan outboundFrame
	head.WithCell(func(cell *cc.ChanCell) { sendCh = u.sendCh })
	for frame := range sendCh {
		raddr, err := net.ResolveUDPAddr("udp", string(frame.to))
		if err != nil {
			u.logger.Log("msg", "bad peer address", "peer", frame.to, "error", err)
			continue
		}
		data, err := encodeFrame(frame.msg)
		if err != nil {
			u.logger.Log("msg", "failed to encode outbound frame", "error", err)
			continue
		}
		if _, err := u.conn.WriteToUDP(data, raddr); err != nil {
			u.logger.Log("msg", "udp write failed", "to", frame.to, "error", err)
		}
	}
}

// SendMessage implements paxoskv.Transport. It may silently fail (spec
// §6: "the transport does not retry; it is the proposer/client that
// re-drives on timeout").
func (u *UDP) SendMessage(to paxoskv.Peer, msg paxoskv.Message) {
	u.sendCh <- outboundFrame{to: to, msg: msg}
}

type inboundFrame struct {
	from paxoskv.Peer
	msg  paxoskv.Message
}

// recvLoop pushes decoded datagrams onto recvCh; it never touches a
// Reactor directly so Run can interleave these with Tick without ever
// calling Receive from two goroutines at once (spec §5).
func (u *UDP) recvLoop(recvCh chan<- inboundFrame) {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, raddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			u.logger.Log("msg", "udp read failed", "error", err)
			return
		}
		msg, err := decodeFrame(buf[:n])
		if err != nil {
			u.logger.Log("msg", "dropping malformed datagram", "from", raddr, "error", err)
			continue
		}
		recvCh <- inboundFrame{from: paxoskv.Peer(raddr.String()), msg: msg}
	}
}

// NextMessage implements paxoskv.Transport by delegating to a single
// shared inbound channel populated by a background recvLoop. Provided
// for API parity with Transport; Run below is the primary driver since
// it additionally interleaves Tick delivery.
func (u *UDP) NextMessage() (paxoskv.Peer, paxoskv.Message) {
	recvCh := make(chan inboundFrame)
	go u.recvLoop(recvCh)
	f := <-recvCh
	return f.from, f.msg
}

// Run implements paxoskv.Transport. It is the sole caller of
// r.Receive, interleaving socket-delivered messages with a periodic
// Tick so deadline scans make progress even when no peer is talking
// (spec §4.4) without ever invoking a Reactor from more than one
// goroutine at a time (spec §5).
func (u *UDP) Run(r paxoskv.Reactor) {
	recvCh := make(chan inboundFrame, 64)
	recvDone := make(chan struct{})
	go func() {
		u.recvLoop(recvCh)
		close(recvDone)
	}()

	ticker := time.NewTicker(paxoskv.DefaultTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-recvDone:
			// The socket stopped reading (Close, or a read error).
			return
		case f := <-recvCh:
			for _, ob := range r.Receive(time.Now(), f.from, f.msg) {
				u.SendMessage(ob.To, ob.Msg)
			}
		case now := <-ticker.C:
			for _, ob := range r.Receive(now, "", paxoskv.Tick{}) {
				u.SendMessage(ob.To, ob.Msg)
			}
		}
	}
}

func (u *UDP) Close() error {
	u.cellTail.Terminate()
	return u.conn.Close()
}
