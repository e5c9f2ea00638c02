package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]any
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			want: &Config{Perf: perf{Device: "/dev/aes_0"}},
		},
		{
			name: "perf enabled",
			set:  map[string]any{"perf.enabled": true, "perf.device": "/dev/aes_0", "t1sz": 25, "verbose": true},
			want: &Config{Perf: perf{Enabled: true, Device: "/dev/aes_0"}, T1SZ: 25, Verbose: true},
		},
		{
			name:    "device outside /dev",
			set:     map[string]any{"perf.device": "/tmp/aes_0"},
			wantErr: true,
		},
		{
			name:    "relative device",
			set:     map[string]any{"perf.device": "aes_0"},
			wantErr: true,
		},
		{
			name:    "t1sz out of range",
			set:     map[string]any{"t1sz": 48},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			for k, v := range tt.set {
				viper.Set(k, v)
			}
			got, err := LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Config{})); diff != "" {
				t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
