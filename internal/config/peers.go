package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Tomas1307/mcp-client-proxy/internal/adapter"
)

// envPeerLoader는 환경변수 하나로 활성화되는 잘 알려진 MCP 서버입니다.
// 변수가 설정되어 있으면 해당 서버의 컨테이너 디스크립터를 생성합니다.
type envPeerLoader struct {
	id     string
	envVar string
	image  string
	// extraArgs는 토큰 주입 외에 docker run에 추가할 인자입니다.
	extraArgs []string
}

// envPeerLoaders는 등록 순서를 보존합니다. 이 순서가 곧
// Registry의 피어 등록 순서이며 도구 이름 충돌 시 우선순위가 됩니다.
var envPeerLoaders = []envPeerLoader{
	{
		id:        "github",
		envVar:    "GITHUB_PERSONAL_ACCESS_TOKEN",
		image:     "ghcr.io/github/github-mcp-server",
		extraArgs: []string{"-e", "GITHUB_TOOLSETS=all"},
	},
	{
		id:     "brave-search",
		envVar: "BRAVE_API_KEY",
		image:  "mcp/brave-search",
	},
	{
		id:     "google-maps",
		envVar: "GOOGLE_MAPS_API_KEY",
		image:  "mcp/google-maps",
	},
}

// load는 환경변수가 설정된 경우 디스크립터를 생성합니다. 없으면 nil.
func (l envPeerLoader) load() *adapter.PeerDescriptor {
	value := os.Getenv(l.envVar)
	if value == "" {
		return nil
	}

	args := []string{"-e", fmt.Sprintf("%s=%s", l.envVar, value)}
	args = append(args, l.extraArgs...)

	return &adapter.PeerDescriptor{
		ID:        l.id,
		Transport: adapter.TransportStdio,
		Stdio: &adapter.StdioParams{
			Image: l.image,
			Args:  args,
		},
	}
}

// peersManifest는 peers.yaml 매니페스트의 루트 구조입니다.
type peersManifest struct {
	Peers []adapter.PeerDescriptor `yaml:"peers"`
}

// LoadPeers는 피어 디스크립터 목록을 구성합니다.
//
// 환경변수 로더가 먼저 순서대로 적용되고, 매니페스트 파일의 피어가
// 그 뒤에 이어집니다. 이 순서는 Registry의 도구 충돌 정책
// (먼저 등록된 피어 우선)에 그대로 반영됩니다.
// 매니페스트에 환경변수 로더와 같은 id가 있으면 매니페스트 쪽을 건너뜁니다.
func LoadPeers(manifestPath string, logger zerolog.Logger) ([]adapter.PeerDescriptor, error) {
	var descs []adapter.PeerDescriptor
	seen := make(map[string]bool)

	for _, loader := range envPeerLoaders {
		desc := loader.load()
		if desc == nil {
			continue
		}
		logger.Info().Str("peer", desc.ID).Str("image", desc.Stdio.Image).
			Msg("환경변수 피어 등록")
		descs = append(descs, *desc)
		seen[desc.ID] = true
	}

	if manifestPath != "" {
		manifestDescs, err := loadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		for _, desc := range manifestDescs {
			if seen[desc.ID] {
				logger.Warn().Str("peer", desc.ID).
					Msg("매니페스트 피어가 환경변수 피어와 id가 겹쳐 건너뜁니다")
				continue
			}
			logger.Info().Str("peer", desc.ID).Str("transport", string(desc.Transport)).
				Msg("매니페스트 피어 등록")
			descs = append(descs, desc)
			seen[desc.ID] = true
		}
	}

	if len(descs) == 0 {
		logger.Warn().Msg("구성된 피어가 없습니다")
	}
	return descs, nil
}

// loadManifest는 peers.yaml을 파싱하고 각 디스크립터를 검증합니다.
func loadManifest(path string) ([]adapter.PeerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("매니페스트 %q 읽기 실패: %w", path, err)
	}

	var manifest peersManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("매니페스트 %q 파싱 실패: %w", path, err)
	}

	for _, desc := range manifest.Peers {
		if err := desc.Validate(); err != nil {
			return nil, fmt.Errorf("매니페스트 %q: %w", path, err)
		}
	}
	return manifest.Peers, nil
}
