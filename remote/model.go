// Package remote talks to the signed-in user's cloud history: finished
// rasters are uploaded there and listed back. Server is a small local
// implementation of the same API for development and tests.
package remote

import (
	"context"
	"time"
)

// Store is the remote history of a signed-in user.
type Store interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	ListHistory(ctx context.Context) ([]HistoryItem, error)
	DeleteHistoryItem(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// HistoryItem 一条云端历史记录
type HistoryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type UploadResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    *HistoryItem `json:"data,omitempty"`
}

type HistoryResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    []HistoryItem `json:"data"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
