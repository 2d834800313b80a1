package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	nhttp "github.com/chaos-io/cutout/util/http"
)

const (
	uploadsPath = "api/v1/uploads"
	historyPath = "api/v1/history"
)

// HTTPStore is the Store client. Requests carry the user's bearer token.
type HTTPStore struct {
	baseURL string
	token   string
	cli     nhttp.IClient
}

func NewHTTPStore(baseURL, token string) *HTTPStore {
	return NewHTTPStoreWithClient(baseURL, token, nhttp.NewHTTPClient())
}

func NewHTTPStoreWithClient(baseURL, token string, cli nhttp.IClient) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		cli:     cli,
	}
}

func (s *HTTPStore) url(path string) string {
	return s.baseURL + "/" + path
}

func (s *HTTPStore) header() map[string]string {
	h := map[string]string{}
	if s.token != "" {
		h["Authorization"] = "Bearer " + s.token
	}
	return h
}

// Upload sends data as a multipart form and returns the stored file's URL.
func (s *HTTPStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	header := s.header()
	header["Content-Type"] = writer.FormDataContentType()

	var resp UploadResponse
	err = s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.url(uploadsPath),
		Method:     http.MethodPost,
		Header:     header,
		Body:       body,
		Response:   &resp,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if !resp.Success || resp.Data == nil {
		return "", fmt.Errorf("upload %s: %s", name, resp.Message)
	}
	return resp.Data.URL, nil
}

func (s *HTTPStore) ListHistory(ctx context.Context) ([]HistoryItem, error) {
	var resp HistoryResponse
	err := s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.url(historyPath),
		Method:     http.MethodGet,
		Header:     s.header(),
		Response:   &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if !resp.Success {
		return nil, errors.New(resp.Message)
	}
	return resp.Data, nil
}

func (s *HTTPStore) DeleteHistoryItem(ctx context.Context, id string) error {
	err := s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.url(historyPath + "/" + url.PathEscape(id)),
		Method:     http.MethodDelete,
		Header:     s.header(),
	})
	if err != nil {
		return fmt.Errorf("delete history %s: %w", id, err)
	}
	return nil
}

func (s *HTTPStore) DeleteAll(ctx context.Context) error {
	err := s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.url(historyPath),
		Method:     http.MethodDelete,
		Header:     s.header(),
	})
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
