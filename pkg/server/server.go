// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package server exposes the capture read interface over a unix socket.
// Each accepted connection is one handle, driven by a single goroutine, so
// read, control, and close requests on a handle arrive strictly one at a
// time — the serialization the reader core relies on.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/reader"
)

// Server accepts device connections and drives reader handles.
type Server struct {
	socketPath string
	qm         reader.QueueManager
	logger     *zap.Logger

	ln     net.Listener
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewServer creates a device server on the given socket path.
func NewServer(socketPath string, qm reader.QueueManager, logger *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		qm:         qm,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on device socket: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.logger.Info("device server started", zap.String("socket", s.socketPath))
	return nil
}

// Stop closes the listener and waits for in-flight handles to finish.
func (s *Server) Stop() error {
	close(s.stopCh)
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn drives one handle for the lifetime of the connection. The
// reader is opened lazily on the first MsgOpen and always closed when the
// connection goes away, releasing any block it still holds.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var r *reader.Reader
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	peer, peerErr := peerPID(conn)

	for {
		hdr, payload, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		switch hdr.MsgType {
		case MsgOpen:
			if r != nil {
				writeResponse(conn, StatusInvalidRequest, nil)
				continue
			}
			if len(payload) < 4 {
				writeResponse(conn, StatusInvalidParameter, nil)
				continue
			}
			claimed := binary.LittleEndian.Uint32(payload)
			opener := uint64(claimed)
			if peerErr == nil {
				// The credential check stands in for the driver's
				// same-thread rule: the opener must be the peer process.
				opener = uint64(peer)
			}
			opened, err := reader.Open(s.qm, reader.OpenParams{
				CallerID:   uint64(claimed),
				OpenerID:   opener,
				PathSuffix: string(payload[4:]),
			}, s.logger)
			if err != nil {
				writeResponse(conn, statusOf(err), nil)
				continue
			}
			r = opened
			writeResponse(conn, StatusOK, nil)

		case MsgRead:
			if r == nil {
				writeResponse(conn, StatusInvalidParameter, nil)
				continue
			}
			if hdr.OutLen > MaxFramePayload {
				writeResponse(conn, StatusInvalidParameter, nil)
				continue
			}
			buf := make([]byte, hdr.OutLen)
			n, err := r.Read(buf)
			if err != nil {
				writeResponse(conn, statusOf(err), nil)
				continue
			}
			writeResponse(conn, StatusOK, buf[:n])

		case MsgControl:
			if r == nil {
				writeResponse(conn, StatusInvalidParameter, nil)
				continue
			}
			var out []byte
			if hdr.OutLen > 0 {
				out = make([]byte, hdr.OutLen)
			}
			n, err := r.Control(hdr.Code, payload, out)
			if err != nil {
				writeResponse(conn, statusOf(err), nil)
				continue
			}
			writeResponse(conn, StatusOK, out[:n])

		case MsgClose:
			if r != nil {
				r.Close()
				r = nil
			}
			writeResponse(conn, StatusOK, nil)
			return

		default:
			writeResponse(conn, StatusInvalidRequest, nil)
		}
	}
}
