// Package config는 프록시의 설정 관리를 담당합니다.
// 설정 우선순위: 환경변수 > 설정파일 > 기본값.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
)

// Config는 전체 애플리케이션 설정을 나타냅니다.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Logging LoggingConfig `mapstructure:"logging"`
	Peers   PeersConfig   `mapstructure:"peers"`
}

// ServerConfig는 게이트웨이 리스너 설정입니다.
type ServerConfig struct {
	// Host는 바인딩할 주소입니다.
	Host string `mapstructure:"host"`
	// Port는 리스닝 포트입니다.
	Port int `mapstructure:"port"`
}

// Addr는 net/http 리스너에 전달할 주소 문자열을 반환합니다.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProxyConfig는 피어 통신 타임아웃과 헬스 수집 주기 설정입니다.
type ProxyConfig struct {
	// CallTimeoutSeconds는 개별 도구 호출의 최대 대기 시간(초)입니다.
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
	// HandshakeTimeoutSeconds는 MCP 핸드셰이크의 최대 대기 시간(초)입니다.
	HandshakeTimeoutSeconds int `mapstructure:"handshake_timeout_seconds"`
	// ShutdownGraceSeconds는 서브프로세스 정상 종료 유예 시간(초)입니다.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
	// HealthIntervalSeconds는 헬스 모니터링 주기(초)입니다. 0이면 비활성화.
	HealthIntervalSeconds int `mapstructure:"health_interval_seconds"`
}

// AdapterOptions는 어댑터 생성에 사용할 타임아웃 옵션을 반환합니다.
// 설정되지 않은 필드는 어댑터의 기본값을 따릅니다.
func (p ProxyConfig) AdapterOptions() adapter.Options {
	return adapter.Options{
		CallTimeout:      time.Duration(p.CallTimeoutSeconds) * time.Second,
		HandshakeTimeout: time.Duration(p.HandshakeTimeoutSeconds) * time.Second,
		ShutdownGrace:    time.Duration(p.ShutdownGraceSeconds) * time.Second,
	}
}

// HealthInterval은 헬스 모니터링 주기를 반환합니다 (0 = 비활성화).
func (p ProxyConfig) HealthInterval() time.Duration {
	return time.Duration(p.HealthIntervalSeconds) * time.Second
}

// LoggingConfig는 로깅 설정입니다.
type LoggingConfig struct {
	// Level은 로그 레벨입니다 (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Format은 로그 포맷입니다 (json, text).
	Format string `mapstructure:"format"`
	// File은 로그 파일 경로입니다. 비어있으면 stdout으로 출력합니다.
	File string `mapstructure:"file"`
}

// PeersConfig는 피어 디스크립터 로딩 설정입니다.
type PeersConfig struct {
	// File은 peers.yaml 매니페스트 경로입니다. 비어있으면 환경변수 로더만 사용합니다.
	File string `mapstructure:"file"`
}

// Load는 설정을 로드하고 Config 구조체를 반환합니다.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("설정 파싱 실패: %w", err)
	}

	// 홈 디렉토리 경로 확장
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Peers.File = expandPath(cfg.Peers.File)

	return &cfg, nil
}

// SetDefaults는 viper에 기본값을 등록합니다. cobra 초기화 시 한 번 호출됩니다.
func SetDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("proxy.call_timeout_seconds", 30)
	viper.SetDefault("proxy.handshake_timeout_seconds", 15)
	viper.SetDefault("proxy.shutdown_grace_seconds", 5)
	viper.SetDefault("proxy.health_interval_seconds", 60)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.file", "")
	viper.SetDefault("peers.file", "")
}

// Validate는 설정의 유효성을 검사합니다.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("유효하지 않은 포트: %d (1-65535 범위)", c.Server.Port)
	}

	if c.Proxy.CallTimeoutSeconds < 0 ||
		c.Proxy.HandshakeTimeoutSeconds < 0 ||
		c.Proxy.ShutdownGraceSeconds < 0 ||
		c.Proxy.HealthIntervalSeconds < 0 {
		return fmt.Errorf("타임아웃 설정은 0 이상이어야 합니다")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("유효하지 않은 로그 레벨: %s (debug, info, warn, error 중 하나)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("유효하지 않은 로그 포맷: %s (json, text 중 하나)", c.Logging.Format)
	}

	return nil
}

// expandPath는 ~를 홈 디렉토리로 확장합니다.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// DefaultConfigPath는 기본 설정 파일 경로를 반환합니다.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mcp-proxy", "config.yaml")
}
