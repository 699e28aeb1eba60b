// Copyright 2025 The go-pakbus Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pakbus

// onHelloCmd answers a neighbor's hello and counts it as a verification.
func (n *Network) onHelloCmd(p *Packet) {
	p.MovePast(2)
	peer, err := p.ReadUint2()
	if err != nil {
		n.comment("malformed hello from %s", p.NeighborSrc)
		return
	}
	ack := NewPacket(ProtocolPakCtrl, PakCtrlHelloAck)
	ack.Dest = p.Src
	ack.NeighborDest = p.NeighborSrc
	ack.TranNo = p.TranNo
	helloBody(ack, n.delay, n.reportedVerify)
	n.postMessage(ack)
	n.onVerified(p.NeighborSrc, peer)
}

func (n *Network) onHelloAck(p *Packet) {
	p.MovePast(2)
	peer, err := p.ReadUint2()
	if err != nil {
		n.comment("malformed hello ack from %s", p.NeighborSrc)
		return
	}
	n.onVerified(p.NeighborSrc, peer)
}

func (n *Network) onVerified(addr Address, peer uint16) {
	interval := NegotiateVerifyInterval(peer, n.reportedVerify)
	nb := n.neighborFor(addr)
	nb.onVerified(n.clock.Now(), interval)
	n.comment("verify interval for %s is %v", addr, interval)
	if n.verify == nb {
		n.verify = nil
		n.setNextFocus()
	}
}

// onHelloReq forces a new verification of the sender. A broadcast request
// is answered after a random hold-off so neighbors do not all reply at once.
func (n *Network) onHelloReq(p *Packet) {
	nb := n.neighborFor(p.NeighborSrc)
	nb.verified.clear()
	if p.NeighborDest == BroadcastAddress && !nb.delayTimer.set {
		nb.setRandomDelay(n.clock.Now(), n.rnd, maxHelloReqDelay)
	}
}

// onEchoCmd replies with the local time followed by whatever followed the
// time stamp in the command.
func (n *Network) onEchoCmd(p *Packet) {
	reply := NewPacket(ProtocolPakCtrl, PakCtrlEchoAck)
	reply.Dest = p.Src
	reply.NeighborDest = p.NeighborSrc
	reply.TranNo = p.TranNo
	reply.AddNsec(n.clock.Now())
	if p.Remaining() > 8 {
		p.MovePast(8)
		reply.AddBytes(p.Body()[p.ReadIndex():])
	}
	n.postMessage(reply)
}

// onDeliveryFailure routes a router's rejection of one of our messages to
// the transaction that sent it.
func (n *Network) onDeliveryFailure(p *Packet) {
	code, err := p.ReadByte()
	if err != nil {
		return
	}
	word1, err := p.ReadUint2()
	if err != nil {
		return
	}
	word2, err := p.ReadUint2()
	if err != nil {
		return
	}
	proto := Protocol(word1 >> 12)
	dest := Address(word1 & 0x0FFF)
	src := Address(word2 & 0x0FFF)
	if src != n.addr || p.Remaining() < 2 {
		return
	}
	msgType, _ := p.ReadByte()
	tranNo, _ := p.ReadByte()
	n.comment("delivery failure %d for %#02x to %s", code, msgType, dest)
	if st, ok := n.stations[dest]; ok {
		st.onDeliveryFailure(code, proto, msgType, tranNo)
	}
}
