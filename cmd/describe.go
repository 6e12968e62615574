package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tomas1307/mcp-client-proxy/internal/config"
	"github.com/Tomas1307/mcp-client-proxy/internal/describe"
	"github.com/Tomas1307/mcp-client-proxy/internal/logger"
	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

var describeModel string

// describeCmd는 피어 하나의 도구 카탈로그 설명을 생성하는 명령어입니다.
var describeCmd = &cobra.Command{
	Use:   "describe <peer-id>",
	Short: "피어 도구 카탈로그의 자연어 설명을 생성합니다",
	Long: `피어 하나의 도구 카탈로그를 조회하고 Anthropic API로
사람이 읽기 좋은 설명을 생성합니다.

환경변수 ANTHROPIC_API_KEY가 필요합니다.`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)

	describeCmd.Flags().StringVar(&describeModel, "model", "",
		"사용할 모델 (기본값: claude-sonnet-4-20250514)")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	peerID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Global()

	descs, err := config.LoadPeers(cfg.Peers.File, log)
	if err != nil {
		return fmt.Errorf("피어 로드 실패: %w", err)
	}

	reg, err := registry.New(descs, cfg.Proxy.AdapterOptions(), log)
	if err != nil {
		return fmt.Errorf("레지스트리 구성 실패: %w", err)
	}
	defer reg.Shutdown()

	ctx := context.Background()

	// 대상 피어만 초기화
	if err := reg.InitializePeer(ctx, peerID); err != nil {
		return fmt.Errorf("피어 %q 초기화 실패: %w", peerID, err)
	}

	listings := reg.ListAllTools(ctx)
	listing := listings[peerID]
	if listing.Error != "" {
		return fmt.Errorf("피어 %q 카탈로그 조회 실패: %s", peerID, listing.Error)
	}

	var opts []describe.Option
	if describeModel != "" {
		opts = append(opts, describe.WithModel(describeModel))
	}

	d, err := describe.New(opts...)
	if err != nil {
		return err
	}

	log.Info().
		Str("peer", peerID).
		Int("tools", len(listing.Tools)).
		Msg("카탈로그 설명 생성 중...")

	description, err := d.Describe(ctx, peerID, listing.Tools)
	if err != nil {
		return fmt.Errorf("설명 생성 실패: %w", err)
	}

	fmt.Fprintln(os.Stdout, description)
	return nil
}
