package main

import (
	"net"
	"net/url"
	"strings"

	configpkg "fuzzyracer/racer/internal/config"
)

// Endpoints lists the addresses clients should use to reach the service.
type Endpoints struct {
	HTTP      string
	WebSocket string
	GRPC      string
}

// advertisedEndpoints derives the client-facing URLs from the listener configuration. The
// websocket URL is a template with a {id} placeholder; GRPC is empty when gRPC is disabled.
func advertisedEndpoints(cfg *configpkg.Config) Endpoints {
	if cfg == nil {
		return Endpoints{}
	}
	httpTLS := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
	//1.- The websocket shares the HTTP listener and therefore its TLS mode.
	web := reachableHost(cfg.Address)
	endpoints := Endpoints{
		HTTP:      (&url.URL{Scheme: pick(httpTLS, "https", "http"), Host: web}).String(),
		WebSocket: pick(httpTLS, "wss", "ws") + "://" + web + "/ws/sessions/{id}",
	}
	//2.- gRPC only serves TLS when mutual TLS is configured.
	if addr := strings.TrimSpace(cfg.GRPCAddress); addr != "" {
		grpcTLS := cfg.GRPCClientCAPath != ""
		endpoints.GRPC = pick(grpcTLS, "grpcs", "grpc") + "://" + reachableHost(addr)
	}
	return endpoints
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

// reachableHost rewrites wildcard or missing hosts to localhost and keeps the port.
func reachableHost(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		return trimmed
	}
	switch strings.Trim(strings.TrimSpace(host), "[]") {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
