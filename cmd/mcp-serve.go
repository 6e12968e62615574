package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tomas1307/mcp-client-proxy/internal/config"
	"github.com/Tomas1307/mcp-client-proxy/internal/mcpserver"
	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

// mcpServeCmd는 MCP 파사드 서버를 시작하는 Cobra 서브커맨드입니다.
var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "MCP 파사드 서버를 시작합니다 (stdio 트랜스포트)",
	Long: `모든 피어의 집계된 도구 카탈로그를 단일 MCP 서버로 노출합니다.
MCP 클라이언트 하나가 모든 백엔드의 도구를 하나의 서버로 사용합니다.

사용 예시 (Claude Code MCP 설정):
  {
    "mcpServers": {
      "mcp-proxy": {
        "command": "mcp-proxy",
        "args": ["mcp-serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

// runMCPServe는 MCP 파사드 서버를 시작합니다.
func runMCPServe(cmd *cobra.Command, args []string) error {
	// 로거 초기화 (stderr로 출력, stdout은 MCP stdio에서 사용)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("component", "mcp-serve").
		Logger()

	log.Info().Msg("MCP 파사드 서버를 시작합니다...")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// 피어 디스크립터 로드 (환경변수 + 매니페스트)
	descs, err := config.LoadPeers(cfg.Peers.File, log)
	if err != nil {
		return fmt.Errorf("피어 로드 실패: %w", err)
	}
	if len(descs) == 0 {
		return fmt.Errorf("등록할 피어가 없습니다. 환경변수 또는 peers.file 설정을 확인하세요")
	}

	reg, err := registry.New(descs, cfg.Proxy.AdapterOptions(), log)
	if err != nil {
		return fmt.Errorf("레지스트리 구성 실패: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("일부 피어 초기화 실패, 해당 피어를 제외하고 계속합니다")
	}

	srv := mcpserver.NewServer(reg, log)
	if err := srv.RegisterTools(ctx); err != nil {
		reg.Shutdown()
		return fmt.Errorf("도구 등록 실패: %w", err)
	}

	// 시그널 핸들링 (graceful shutdown)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("종료 시그널 수신, MCP 서버를 종료합니다")
		cancel()
		reg.Shutdown()
		os.Exit(0)
	}()

	// MCP 서버 시작 (stdio, 블로킹)
	log.Info().
		Int("peers", len(descs)).
		Int("tools", reg.ToolCount()).
		Msg("MCP 파사드 서버 준비 완료, stdio 대기 중...")

	if err := srv.Start(); err != nil {
		reg.Shutdown()
		return fmt.Errorf("MCP 서버 실행 실패: %w", err)
	}

	reg.Shutdown()
	return nil
}
