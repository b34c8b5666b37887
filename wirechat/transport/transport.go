// Package transport picks a wirechat.Dialer from configuration.
package transport

import (
	"fmt"

	"github.com/vovakirdan/wirechat-realtime-go/wirechat"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/transport/coderws"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/transport/gobwasws"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/transport/gorillaws"
	"github.com/vovakirdan/wirechat-realtime-go/wirechat/transport/socketio"
)

// NewDialer returns the dialer named by cfg.Transport.
func NewDialer(cfg wirechat.Config, logger wirechat.Logger) (wirechat.Dialer, error) {
	if cfg.URL == "" {
		return nil, wirechat.NewError(wirechat.ErrorInvalidConfig, "empty URL")
	}
	if logger == nil {
		logger = wirechat.NopLogger()
	}
	codec, err := wirechat.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case "", wirechat.TransportWebsocket:
		return coderws.New(cfg, codec, logger), nil
	case wirechat.TransportGorilla:
		return gorillaws.New(cfg, codec, logger), nil
	case wirechat.TransportGobwas:
		return gobwasws.New(cfg, codec, logger), nil
	case wirechat.TransportSocketIO:
		if codec.Binary() {
			return nil, wirechat.NewError(wirechat.ErrorInvalidConfig, "socketio transport carries JSON only")
		}
		return socketio.New(cfg, logger), nil
	default:
		return nil, wirechat.NewError(wirechat.ErrorInvalidConfig, fmt.Sprintf("unknown transport %q", cfg.Transport))
	}
}
