package emulator

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/nasa/XPlaneConnect/pkg/protocol"
)

func (s *Server) handleConn(from *net.UDPAddr, packet []byte) error {
	var m protocol.Conn
	if err := decode(packet, &m); err != nil {
		return err
	}
	id := s.connID(from.IP.String())
	to := &net.UDPAddr{IP: from.IP, Port: m.Port, Zone: from.Zone}
	s.log.WithFields(logrus.Fields{"id": id, "port": m.Port}).Debug("connection redirected")
	return s.reply(to, &protocol.ConnAck{ID: id})
}

func (s *Server) handleSimu(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Simu
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.pause(m.Code)
	return nil
}

func (s *Server) handleData(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Data
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.setRows(m.Rows)
	return nil
}

// handleDsel answers with one DATA packet holding the selected rows.
func (s *Server) handleDsel(from *net.UDPAddr, packet []byte) error {
	var m protocol.Dsel
	if err := decode(packet, &m); err != nil {
		return err
	}
	rows := make([]protocol.DataRow, len(m.Rows))
	for i, idx := range m.Rows {
		rows[i] = protocol.DataRow{Index: idx, Values: s.state.DataRow(idx)}
	}
	return s.reply(from, &protocol.Data{Rows: rows})
}

func (s *Server) handlePosi(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Posi
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.setPosition(m.Aircraft, m.Values)
	return nil
}

func (s *Server) handleGetp(from *net.UDPAddr, packet []byte) error {
	var m protocol.Getp
	if err := decode(packet, &m); err != nil {
		return err
	}
	return s.reply(from, &protocol.Posi{Aircraft: m.Aircraft, Values: s.state.Position(m.Aircraft)})
}

func (s *Server) handleCtrl(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Ctrl
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.setControls(m.Aircraft, m.Values)
	return nil
}

func (s *Server) handleGetc(from *net.UDPAddr, packet []byte) error {
	var m protocol.Getc
	if err := decode(packet, &m); err != nil {
		return err
	}
	return s.reply(from, &protocol.Ctrl{Aircraft: m.Aircraft, Values: s.state.Controls(m.Aircraft)})
}

func (s *Server) handleDref(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Dref
	if err := decode(packet, &m); err != nil {
		return err
	}
	for _, e := range m.Entries {
		s.state.SetDataref(e.Name, e.Values...)
	}
	return nil
}

// handleGetd replies with the stored values; unknown datarefs come back
// with no values.
func (s *Server) handleGetd(from *net.UDPAddr, packet []byte) error {
	var m protocol.Getd
	if err := decode(packet, &m); err != nil {
		return err
	}
	resp := &protocol.DrefResponse{Values: make([][]float32, len(m.Names))}
	for i, name := range m.Names {
		resp.Values[i] = s.state.Dataref(name)
	}
	return s.reply(from, resp)
}

func (s *Server) handleText(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Text
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.setText(m)
	return nil
}

func (s *Server) handleView(_ *net.UDPAddr, packet []byte) error {
	var m protocol.View
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.setView(m.View)
	return nil
}

func (s *Server) handleWypt(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Wypt
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.waypoint(m.Op, m.Points)
	return nil
}

func (s *Server) handleComm(_ *net.UDPAddr, packet []byte) error {
	var m protocol.Comm
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.state.command(m.Command)
	return nil
}

func (s *Server) handleRref(from *net.UDPAddr, packet []byte) error {
	var m protocol.Rref
	if err := decode(packet, &m); err != nil {
		return err
	}
	s.streams.set(from, m.Index, m.Name, m.Freq)
	s.log.WithFields(logrus.Fields{"dref": m.Name, "index": m.Index, "freq": m.Freq}).Debug("rref updated")
	return nil
}
