package remote

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/util"
)

// Server is a local remote store: uploads land in a directory and the
// history is kept in memory.
type Server struct {
	mu        sync.RWMutex
	uploadDir string
	token     string
	items     map[string]HistoryItem
	files     map[string]string // id -> path
	engine    *gin.Engine
}

func NewServer(uploadDir, token, mode string) (*Server, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, err
	}
	gin.SetMode(mode)

	s := &Server{
		uploadDir: uploadDir,
		token:     token,
		items:     make(map[string]HistoryItem),
		files:     make(map[string]string),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Static("/files", uploadDir)

	api := r.Group("/api/v1", Auth(token))
	{
		api.POST("/uploads", s.upload)
		api.GET("/history", s.history)
		api.DELETE("/history/:id", s.deleteItem)
		api.DELETE("/history", s.deleteAll)
	}
	s.engine = r
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run(addr string) error {
	util.Logger.Info("remote store listening", zap.String("addr", addr), zap.String("dir", s.uploadDir))
	return s.engine.Run(addr)
}

func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "missing image file", Error: err.Error()})
		return
	}

	id := ksuid.New().String()
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = ".png"
	}
	filename := id + ext
	savePath := filepath.Join(s.uploadDir, filename)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		util.Logger.Error("failed to save upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to save file", Error: err.Error()})
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	item := HistoryItem{
		ID:        id,
		Name:      file.Filename,
		URL:       scheme + "://" + c.Request.Host + "/files/" + filename,
		Size:      file.Size,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.items[id] = item
	s.files[id] = savePath
	s.mu.Unlock()

	util.Logger.Info("file uploaded", zap.String("id", id), zap.String("name", file.Filename), zap.Int64("size", file.Size))
	c.JSON(http.StatusOK, UploadResponse{Success: true, Message: "ok", Data: &item})
}

// history lists items newest first.
func (s *Server) history(c *gin.Context) {
	s.mu.RLock()
	items := make([]HistoryItem, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.mu.RUnlock()

	// ksuid 按时间排序
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	c.JSON(http.StatusOK, HistoryResponse{Success: true, Message: "ok", Data: items})
}

func (s *Server) deleteItem(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	path, ok := s.files[id]
	delete(s.items, id)
	delete(s.files, id)
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "history item not found"})
		return
	}
	s.removeFile(path)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deleteAll(c *gin.Context) {
	s.mu.Lock()
	files := s.files
	s.items = make(map[string]HistoryItem)
	s.files = make(map[string]string)
	s.mu.Unlock()

	for _, path := range files {
		s.removeFile(path)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": len(files)})
}

func (s *Server) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		util.Logger.Warn("failed to delete file", zap.String("file", path), zap.Error(err))
	}
}
