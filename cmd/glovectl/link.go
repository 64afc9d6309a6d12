package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/config"
	"github.com/gwillem/glove/pkg/session"
)

// link is an open message channel to the glove with its receive task running.
type link struct {
	ch      *channel.Channel
	session *session.Session
	cancel  context.CancelFunc
	done    chan error
}

func openLink(ctx context.Context, p config.Port, log zerolog.Logger) (*link, error) {
	if p.Path == "" {
		return nil, fmt.Errorf("no link port configured")
	}
	port, err := channel.Open(p.Path, p.PortOptions)
	if err != nil {
		return nil, err
	}

	ch := channel.New(port, channel.WithLogger(log))
	runCtx, cancel := context.WithCancel(ctx)
	l := &link{
		ch:      ch,
		session: session.New(ch, session.WithLogger(log)),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { l.done <- ch.Run(runCtx) }()
	return l, nil
}

func (l *link) Close() error {
	l.cancel()
	<-l.done
	return l.ch.Close()
}
