package server

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liangruuu/muduo-learn/logx"
)

// defaultHighWaterMark matches TcpConnection's own default (64MB) before
// OnHighWaterMark starts firing.
const defaultHighWaterMark = 64 * 1024 * 1024

const defaultIdleBufferSize = 1024

// Options collects every knob Server accepts, populated via Option
// functions passed to New.
type Options struct {
	ThreadNum      int
	ReusePort      bool
	HighWaterMark  int
	IdleBufferSize int
	KeepAlive      time.Duration
	Logger         *logrus.Logger
}

func defaultOptions() *Options {
	return &Options{
		ThreadNum:      0,
		ReusePort:      false,
		HighWaterMark:  defaultHighWaterMark,
		IdleBufferSize: defaultIdleBufferSize,
		KeepAlive:      0,
		Logger:         logx.L,
	}
}

// Option mutates an Options in place.
type Option func(*Options)

// WithThreadNum sets the number of worker loops in the server's loop pool.
// Zero (the default) means every connection is handled on the base loop.
func WithThreadNum(n int) Option {
	return func(o *Options) { o.ThreadNum = n }
}

// WithReusePort enables SO_REUSEPORT on the listening socket.
func WithReusePort() Option {
	return func(o *Options) { o.ReusePort = true }
}

// WithHighWaterMark overrides the output-buffer threshold, in bytes, past
// which OnHighWaterMark fires.
func WithHighWaterMark(bytes int) Option {
	return func(o *Options) { o.HighWaterMark = bytes }
}

// WithIdleBufferSize overrides the initial capacity of each connection's
// input/output buffers.
func WithIdleBufferSize(bytes int) Option {
	return func(o *Options) { o.IdleBufferSize = bytes }
}

// WithKeepAlive enables SO_KEEPALIVE on accepted sockets with the given
// probe interval. Zero (the default) leaves keepalive disabled.
func WithKeepAlive(d time.Duration) Option {
	return func(o *Options) { o.KeepAlive = d }
}

// WithLogger overrides the logger used for this server's lifecycle events.
func WithLogger(l *logrus.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func parseOptions(opts ...Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
