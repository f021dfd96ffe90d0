package store

// ============================================================================
// 職責說明：
// 1. 將已套用的任務描述符與佇列綁定序列化為 JSON 檔
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 重啟時由 registry 依此重建控制器
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/replica-scaler/pkg/types"
)

// SchemaVersion is the on-disk format version.
const SchemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedStore      = errors.New("descriptor store is corrupted")
	ErrIncompatibleVersion = errors.New("descriptor store schema version is incompatible")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// State is everything the store persists.
type State struct {
	SchemaVer   int                           `json:"schema_version"`
	SavedAt     time.Time                     `json:"saved_at"`
	Descriptors []types.JobInstanceDescriptor `json:"descriptors"`
	Bindings    types.QueueBindings           `json:"bindings,omitempty"`
}

// Store 描述符儲存
type Store struct {
	path string     // 檔案路徑；空字串表示不持久化
	mu   sync.Mutex // 保護檔案操作
}

// New 建立描述符儲存實例。path 為空時 Save/Load 皆為空操作。
func New(path string) *Store {
	return &Store{path: path}
}

// Path 取得檔案路徑
func (s *Store) Path() string {
	return s.path
}

// Save 原子性寫入
//
// 流程：
// 1. 依 InstanceID 排序，輸出穩定
// 2. 寫入臨時檔案（.tmp）
// 3. 使用 os.Rename 原子性替換原始檔案
func (s *Store) Save(descriptors []types.JobInstanceDescriptor, bindings types.QueueBindings) error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]types.JobInstanceDescriptor(nil), descriptors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InstanceID() < sorted[j].InstanceID() })

	state := State{
		SchemaVer:   SchemaVersion,
		SavedAt:     time.Now().UTC(),
		Descriptors: sorted,
		Bindings:    bindings,
	}

	// 帶縮排，方便人工閱讀與除錯
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptors: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename store: %w", err)
	}
	return nil
}

// Load 載入描述符
//
// 行為：
//   - 檔案不存在時回傳空狀態（首次啟動）
//   - 驗證 schema 版本與每個描述符
func (s *Store) Load() (State, error) {
	empty := State{SchemaVer: SchemaVersion}
	if s.path == "" {
		return empty, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty, nil
		}
		return State{}, fmt.Errorf("failed to read store: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptedStore, err)
	}
	if state.SchemaVer != SchemaVersion {
		return State{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, state.SchemaVer, SchemaVersion)
	}
	for _, d := range state.Descriptors {
		if err := d.Validate(); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrCorruptedStore, err)
		}
	}
	return state, nil
}
