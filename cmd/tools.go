package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tomas1307/mcp-client-proxy/internal/config"
	"github.com/Tomas1307/mcp-client-proxy/internal/logger"
	"github.com/Tomas1307/mcp-client-proxy/internal/registry"
)

var toolsJSONOutput bool

// toolsCmd는 모든 피어의 도구 카탈로그를 한 번 조회하고 출력하는 명령어입니다.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "모든 피어의 도구 카탈로그를 출력합니다",
	Long: `등록된 모든 피어를 초기화하고 도구 카탈로그를 조회한 뒤 종료합니다.
피어 설정을 검증하거나 사용 가능한 도구를 확인할 때 사용합니다.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)

	toolsCmd.Flags().BoolVar(&toolsJSONOutput, "json", false, "JSON 형식으로 출력합니다")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Global()

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
	defer reg.Shutdown()

	ctx := context.Background()
	if err := reg.Init(ctx); err != nil {
		log.Warn().Err(err).Msg("일부 피어 초기화 실패")
	}

	listings := reg.ListAllTools(ctx)

	if toolsJSONOutput {
		data, err := json.MarshalIndent(listings, "", "  ")
		if err != nil {
			return fmt.Errorf("카탈로그 직렬화 실패: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}

	// 사람이 읽는 형식: 피어 등록 순서대로 출력
	total := 0
	for _, peerID := range reg.PeerIDs() {
		listing := listings[peerID]

		if listing.Error != "" {
			fmt.Printf("%s: 조회 실패 (%s)\n", peerID, listing.Error)
			continue
		}

		fmt.Printf("%s: %d개 도구\n", peerID, len(listing.Tools))
		for _, tool := range listing.Tools {
			if tool.Description != "" {
				fmt.Printf("  %-30s %s\n", tool.Name, tool.Description)
			} else {
				fmt.Printf("  %s\n", tool.Name)
			}
			total++
		}
	}

	fmt.Printf("\n합계: %d개 도구 (라우팅 가능: %d개)\n", total, reg.ToolCount())
	return nil
}
