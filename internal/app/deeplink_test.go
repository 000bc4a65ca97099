package app

import (
	"errors"
	"testing"

	"github.com/skobkin/mediaremote/internal/domain"
)

func TestParseDeepLink(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    domain.ServerKey
		wantErr error
	}{
		{
			name: "query parameters",
			raw:  "https://remote.example/?ip=192.168.1.20&port=10010",
			want: domain.ServerKey{Address: "192.168.1.20", Port: 10010},
		},
		{
			name: "hash parameters",
			raw:  "https://remote.example/#/remote?ip=10.0.0.7&port=12000",
			want: domain.ServerKey{Address: "10.0.0.7", Port: 12000},
		},
		{
			name: "query wins per key",
			raw:  "https://remote.example/?ip=10.0.0.1#/?ip=10.0.0.2&port=10010",
			want: domain.ServerKey{Address: "10.0.0.1", Port: 10010},
		},
		{
			name:    "missing port",
			raw:     "https://remote.example/?ip=10.0.0.1",
			wantErr: ErrNoDeepLink,
		},
		{
			name:    "no parameters",
			raw:     "https://remote.example/",
			wantErr: ErrNoDeepLink,
		},
		{
			name:    "port not a number",
			raw:     "https://remote.example/?ip=10.0.0.1&port=abc",
			wantErr: domain.ErrInvalidAddress,
		},
		{
			name:    "port out of range",
			raw:     "https://remote.example/?ip=10.0.0.1&port=70000",
			wantErr: domain.ErrInvalidAddress,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDeepLink(tc.raw)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}

				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}
