package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8000},
		Proxy:   ProxyConfig{CallTimeoutSeconds: 30, HandshakeTimeoutSeconds: 15, ShutdownGraceSeconds: 5, HealthIntervalSeconds: 60},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// TestConfig_Validate는 설정 유효성 검사를 테스트합니다.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "유효한 설정",
			mutate: func(*Config) {},
		},
		{
			name:    "포트 0",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "포트",
		},
		{
			name:    "포트 범위 초과",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "포트",
		},
		{
			name:    "음수 타임아웃",
			mutate:  func(c *Config) { c.Proxy.CallTimeoutSeconds = -1 },
			wantErr: "타임아웃",
		},
		{
			name:    "유효하지 않은 로그 레벨",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "로그 레벨",
		},
		{
			name:    "유효하지 않은 로그 포맷",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "로그 포맷",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("에러를 기대했지만 nil을 받았습니다")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("에러 메시지 %q에 %q가 없습니다", err.Error(), tt.wantErr)
			}
		})
	}
}

// TestServerConfig_Addr는 리스너 주소 조합을 테스트합니다.
func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9090}
	if got := s.Addr(); got != "127.0.0.1:9090" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9090", got)
	}
}

// TestProxyConfig_AdapterOptions는 초 단위 설정의 Duration 변환을 테스트합니다.
func TestProxyConfig_AdapterOptions(t *testing.T) {
	p := ProxyConfig{CallTimeoutSeconds: 45, HandshakeTimeoutSeconds: 10, ShutdownGraceSeconds: 3}
	opts := p.AdapterOptions()

	if opts.CallTimeout != 45*time.Second {
		t.Errorf("CallTimeout = %v, want 45s", opts.CallTimeout)
	}
	if opts.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", opts.HandshakeTimeout)
	}
	if opts.ShutdownGrace != 3*time.Second {
		t.Errorf("ShutdownGrace = %v, want 3s", opts.ShutdownGrace)
	}
}

// TestExpandPath는 홈 디렉토리 확장을 테스트합니다.
func TestExpandPath(t *testing.T) {
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q, want \"\"", got)
	}
	if got := expandPath("/var/log/proxy.log"); got != "/var/log/proxy.log" {
		t.Errorf("절대 경로가 변경되었습니다: %q", got)
	}
	if got := expandPath("~/logs/proxy.log"); strings.HasPrefix(got, "~") {
		t.Errorf("~가 확장되지 않았습니다: %q", got)
	}
}
