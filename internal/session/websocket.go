// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/autobrr/axon/internal/buildinfo"
)

const (
	defaultDialTimeout = 10 * time.Second
	// Full snapshots of large daemons easily exceed the library default of 32KiB.
	readLimit = 64 << 20
)

// WebsocketTransport dials daemons over websocket text frames.
type WebsocketTransport struct {
	DialTimeout time.Duration
	HTTPClient  *http.Client
}

func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{DialTimeout: defaultDialTimeout}
}

func (t *WebsocketTransport) Dial(ctx context.Context, server, password string) (Conn, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", server)
	}
	if password != "" {
		q := u.Query()
		q.Set("password", password)
		u.RawQuery = q.Encode()
	}

	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("User-Agent", buildinfo.UserAgent)

	c, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: t.HTTPClient,
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrapf(ErrAuthRejected, "handshake status %d", resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", u.Host)
	}

	c.SetReadLimit(readLimit)
	log.Debug().Str("host", u.Host).Msg("websocket connected")

	return &websocketConn{conn: c}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			log.Debug().Int("bytes", len(data)).Msg("ignoring binary websocket frame")
			continue
		}
		return data, nil
	}
}

func (c *websocketConn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *websocketConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
