// Package main은 MCP Client Proxy CLI의 진입점입니다.
// 여러 MCP 백엔드 서버의 도구를 하나의 호출 표면으로 집계합니다.
package main

import (
	"os"

	"github.com/Tomas1307/mcp-client-proxy/cmd"
)

// 빌드 시 ldflags로 주입되는 버전 정보
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// 버전 정보를 root 패키지에 설정
	cmd.SetVersionInfo(version, commit, buildDate)

	// CLI 실행
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
