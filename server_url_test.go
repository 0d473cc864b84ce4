package main

import (
	"testing"

	configpkg "fuzzyracer/racer/internal/config"
)

func TestAdvertisedEndpoints(t *testing.T) {
	cases := []struct {
		name string
		cfg  configpkg.Config
		want Endpoints
	}{
		{
			name: "defaults without tls",
			cfg:  configpkg.Config{Address: configpkg.DefaultAddr, GRPCAddress: configpkg.DefaultGRPCAddr},
			want: Endpoints{
				HTTP:      "http://localhost:43180",
				WebSocket: "ws://localhost:43180/ws/sessions/{id}",
				GRPC:      "grpc://localhost:43181",
			},
		},
		{
			name: "http tls keeps plaintext grpc",
			cfg:  configpkg.Config{Address: "0.0.0.0:8443", GRPCAddress: "[::]:9443", TLSCertPath: "c.pem", TLSKeyPath: "k.pem"},
			want: Endpoints{
				HTTP:      "https://localhost:8443",
				WebSocket: "wss://localhost:8443/ws/sessions/{id}",
				GRPC:      "grpc://localhost:9443",
			},
		},
		{
			name: "mutual tls secures grpc",
			cfg: configpkg.Config{Address: "racer.internal:80", GRPCAddress: "10.0.0.5:9000",
				TLSCertPath: "c.pem", TLSKeyPath: "k.pem", GRPCClientCAPath: "ca.pem"},
			want: Endpoints{
				HTTP:      "https://racer.internal:80",
				WebSocket: "wss://racer.internal:80/ws/sessions/{id}",
				GRPC:      "grpcs://10.0.0.5:9000",
			},
		},
		{
			name: "grpc disabled",
			cfg:  configpkg.Config{Address: "[2001:db8::1]:43180"},
			want: Endpoints{
				HTTP:      "http://[2001:db8::1]:43180",
				WebSocket: "ws://[2001:db8::1]:43180/ws/sessions/{id}",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			if got := advertisedEndpoints(&cfg); got != tc.want {
				t.Fatalf("advertisedEndpoints() = %+v, want %+v", got, tc.want)
			}
		})
	}
	if got := advertisedEndpoints(nil); got != (Endpoints{}) {
		t.Fatalf("expected empty endpoints for nil config, got %+v", got)
	}
}

func TestReachableHostWithoutPort(t *testing.T) {
	if got := reachableHost(""); got != "localhost" {
		t.Fatalf("expected localhost for empty address, got %q", got)
	}
	if got := reachableHost("racer.local"); got != "racer.local" {
		t.Fatalf("expected bare host to pass through, got %q", got)
	}
}
