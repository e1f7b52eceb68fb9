package videoingest

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

const videoIngestPipelineEnv = "VIDEO_INGEST_PIPELINE_YAML"

//go:embed video_ingest.yaml
var videoIngestSpecFS embed.FS

// Fallback schedules used when the YAML is missing or invalid.
var fallbackBackoffs = map[string][]time.Duration{
	stageTranscribe:  {60 * time.Second, 120 * time.Second},
	stageChunkEnrich: {60 * time.Second, 60 * time.Second},
	stageEmbedIndex:  {60 * time.Second, 60 * time.Second},
}

type yamlPipelineSpec struct {
	Pipeline string          `yaml:"pipeline"`
	Version  int             `yaml:"version"`
	Stages   []yamlStageSpec `yaml:"stages"`
}

type yamlStageSpec struct {
	Name           string `yaml:"name"`
	RetryBackoffsS []int  `yaml:"retry_backoffs_s"`
	Enabled        *bool  `yaml:"enabled"`
}

type pipelineRuntime struct {
	StageOrder []string
	Stages     map[string]yamlStageSpec
}

var runtimeOnce sync.Once
var runtimeCache *pipelineRuntime
var runtimeErr error

func currentPipelineRuntime(log *logger.Logger) *pipelineRuntime {
	runtimeOnce.Do(func() {
		runtimeCache, runtimeErr = loadPipelineRuntime()
	})
	if runtimeErr != nil {
		if log != nil {
			log.Warn("video_ingest: pipeline spec load failed; using fallback", "error", runtimeErr)
		}
		return nil
	}
	return runtimeCache
}

// stageBackoffs resolves the retry schedule for one stage from the spec,
// falling back to the built-in schedule when the spec is unusable.
func stageBackoffs(log *logger.Logger, stage string) []time.Duration {
	if rt := currentPipelineRuntime(log); rt != nil {
		if spec, ok := rt.Stages[stage]; ok && len(spec.RetryBackoffsS) > 0 {
			out := make([]time.Duration, 0, len(spec.RetryBackoffsS))
			for _, s := range spec.RetryBackoffsS {
				out = append(out, time.Duration(s)*time.Second)
			}
			return out
		}
	}
	return fallbackBackoffs[stage]
}

func loadPipelineRuntime() (*pipelineRuntime, error) {
	data, err := readVideoIngestSpec()
	if err != nil {
		return nil, err
	}

	var spec yamlPipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if err := validatePipelineSpec(&spec); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(spec.Stages))
	stages := make(map[string]yamlStageSpec, len(spec.Stages))
	for _, stage := range spec.Stages {
		if stage.Name == "" {
			continue
		}
		if stage.Enabled != nil && !*stage.Enabled {
			continue
		}
		order = append(order, stage.Name)
		stages[stage.Name] = stage
	}

	return &pipelineRuntime{StageOrder: order, Stages: stages}, nil
}

func readVideoIngestSpec() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(videoIngestPipelineEnv)); path != "" {
		return os.ReadFile(path)
	}
	return videoIngestSpecFS.ReadFile("video_ingest.yaml")
}

func validatePipelineSpec(spec *yamlPipelineSpec) error {
	if spec == nil {
		return errors.New("missing spec")
	}
	if strings.TrimSpace(spec.Pipeline) != "video_ingest" {
		return fmt.Errorf("unexpected pipeline: %s", spec.Pipeline)
	}
	if len(spec.Stages) == 0 {
		return errors.New("no stages defined")
	}

	seen := map[string]bool{}
	for _, stage := range spec.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return errors.New("stage name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate stage name: %s", name)
		}
		seen[name] = true
		for _, s := range stage.RetryBackoffsS {
			if s < 0 {
				return fmt.Errorf("stage %s: negative backoff", name)
			}
		}
	}
	return nil
}
