package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tomas1307/mcp-client-proxy/internal/config"
	"github.com/Tomas1307/mcp-client-proxy/internal/gateway"
	"github.com/Tomas1307/mcp-client-proxy/internal/logger"
	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

// shutdownTimeout은 게이트웨이 graceful shutdown 대기 시간입니다.
const shutdownTimeout = 10 * time.Second

// serveCmd는 HTTP 게이트웨이 서버를 시작하는 명령어입니다.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTP 게이트웨이 서버를 시작합니다",
	Long: `등록된 모든 MCP 피어를 초기화하고 HTTP 게이트웨이를 시작합니다.

피어는 두 곳에서 읽어 순서대로 등록합니다:
  1. 환경변수 (GITHUB_PERSONAL_ACCESS_TOKEN, BRAVE_API_KEY, GOOGLE_MAPS_API_KEY)
  2. peers.yaml 매니페스트 (peers.file 설정)

SIGINT/SIGTERM 수신 시 진행 중인 요청을 마치고 모든 피어를 정리합니다.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Global()

	// 피어 디스크립터 로드 (환경변수 + 매니페스트)
	descs, err := config.LoadPeers(cfg.Peers.File, log)
	if err != nil {
		return fmt.Errorf("피어 로드 실패: %w", err)
	}

	reg, err := registry.New(descs, cfg.Proxy.AdapterOptions(), log)
	if err != nil {
		return fmt.Errorf("레지스트리 구성 실패: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 피어 초기화: 개별 피어 실패는 제외 처리되며 서버는 계속 기동
	if err := reg.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("일부 피어 초기화 실패, 해당 피어를 제외하고 계속합니다")
	}

	// 주기적 헬스 모니터링
	reg.Monitor().Start(ctx, cfg.Proxy.HealthInterval(), log, nil)

	gw := gateway.New(reg, cfg.Server.Addr(), log)

	// 시그널 핸들링 (graceful shutdown)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Int("peers", len(descs)).
		Int("tools", reg.ToolCount()).
		Msg("게이트웨이 서버 시작")

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("종료 시그널 수신, 서버를 종료합니다")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("게이트웨이 서버 오류")
			reg.Shutdown()
			return fmt.Errorf("게이트웨이 실행 실패: %w", err)
		}
	}

	// 진행 중인 HTTP 요청을 마치고 종료
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("게이트웨이 종료 중 오류")
	}

	// 모든 피어 정리 (subprocess 종료 포함)
	reg.Shutdown()

	log.Info().Msg("서버 종료 완료")
	return nil
}
