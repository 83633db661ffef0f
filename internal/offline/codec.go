package offline

import (
	"bytes"
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/util"
	"encoding/json"
	"fmt"
)

// CurrentVersion 离线队列持久化格式版本。
// 版本 0 是早期直接存放条目数组的格式，加载时自动迁移。
const CurrentVersion = 1

type envelope struct {
	Version int                       `json:"version"`
	Entries []model.OfflineQueueEntry `json:"entries"`
}

// DecodeResult 解码结果，Dropped 为校验失败被丢弃的条目数
type DecodeResult struct {
	Version int
	Entries []model.OfflineQueueEntry
	Dropped int
}

func Encode(entries []model.OfflineQueueEntry) ([]byte, error) {
	if entries == nil {
		entries = []model.OfflineQueueEntry{}
	}
	return json.Marshal(envelope{Version: CurrentVersion, Entries: entries})
}

func Decode(data []byte) (*DecodeResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &DecodeResult{Version: CurrentVersion}, nil
	}

	var env envelope
	if data[0] == '[' {
		if err := json.Unmarshal(data, &env.Entries); err != nil {
			return nil, fmt.Errorf("decode legacy offline queue: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode offline queue: %w", err)
		}
		if env.Version > CurrentVersion || env.Version < 1 {
			return nil, fmt.Errorf("%w: %d", util.ErrUnsupportedQueue, env.Version)
		}
	}

	result := &DecodeResult{Version: env.Version}
	for _, entry := range env.Entries {
		if err := ValidateEntry(entry); err != nil {
			result.Dropped++
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

func ValidateEntry(entry model.OfflineQueueEntry) error {
	return util.ValidateProgress(entry)
}
