// File: internal/network/h3.go
package network

import (
	"fmt"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// NewH3Transport builds an HTTP/3 round tripper for proxyless profiles. QUIC
// connections are sessions owned by the transport itself; session management,
// stream multiplexing and 0-RTT reuse all live inside it.
// Ref: https://pkg.go.dev/github.com/quic-go/quic-go/http3#Transport
func NewH3Transport(config *ClientConfig) (*http3.Transport, error) {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	if config.ProxyURL != nil {
		// quic-go dials UDP directly; upstream HTTP proxies cannot carry it.
		return nil, fmt.Errorf("HTTP/3 transport does not support an upstream proxy")
	}

	tlsConfig := configureTLS(config)
	tlsConfig.NextProtos = []string{"h3"} // Force H3 ALPN

	qConf := &quic.Config{
		KeepAlivePeriod: config.KeepAliveInterval,
		MaxIdleTimeout:  config.IdleConnTimeout,
	}

	return &http3.Transport{
		TLSClientConfig: tlsConfig,
		QUICConfig:      qConf,
	}, nil
}
