package api

import (
	"errors"
	"log/slog"
	"net"
)

var errPeerCredUnsupported = errors.New("peer credentials not supported")

// peerListener drops Unix socket connections whose peer is not uid.
type peerListener struct {
	net.Listener
	uid    int
	logger *slog.Logger
}

func (l *peerListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		uc, ok := conn.(*net.UnixConn)
		if !ok {
			return conn, nil
		}
		uid, err := peerUID(uc)
		switch {
		case errors.Is(err, errPeerCredUnsupported):
			return conn, nil
		case err != nil:
			l.logger.Warn("reading peer credentials failed", "error", err)
		case uid == l.uid:
			return conn, nil
		default:
			l.logger.Warn("rejected connection from another user", "peer_uid", uid)
		}
		conn.Close()
	}
}
