package segment

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
)

const (
	BiRefNetModel = "BiRefNet"

	uploadPath  = "api/upload/image"
	promptPath  = "api/prompt"
	historyPath = "api/history/"
	viewPath    = "api/view"

	// 工作流里 LoadImage 节点的占位文件名
	workflowPlaceholder = "MyImage.png"
)

//go:embed workflow.json
var workflowData []byte

// BiRefNet runs background removal on a ComfyUI server hosting the BiRefNet
// workflow: upload the image, queue the prompt, poll its history, download the
// result.
type BiRefNet struct {
	baseURL      string
	cli          nhttp.IClient
	pollInterval time.Duration
	maxDimension int
}

func NewBiRefNet(baseURL string, pollInterval time.Duration, maxDimension int) *BiRefNet {
	return NewBiRefNetWithClient(baseURL, nhttp.NewHTTPClient(), pollInterval, maxDimension)
}

func NewBiRefNetWithClient(baseURL string, cli nhttp.IClient, pollInterval time.Duration, maxDimension int) *BiRefNet {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &BiRefNet{baseURL: baseURL, cli: cli, pollInterval: pollInterval, maxDimension: maxDimension}
}

func (b *BiRefNet) Remove(ctx context.Context, data []byte, progress func(float64)) (image.Image, error) {
	defer util.Trace(BiRefNetModel)()
	report(progress, 0)

	img, err := util.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	src := toNRGBA(img)
	if hasUsefulAlpha(src) {
		report(progress, 1)
		return src, nil
	}
	if resized := resizeWithinMax(src, b.maxDimension); resized != src {
		if data, err = util.EncodePNG(resized); err != nil {
			return nil, err
		}
	}

	name, err := b.uploadImage(ctx, data)
	if err != nil {
		return nil, err
	}
	report(progress, 0.2)

	promptID, err := b.prompt(ctx, name)
	if err != nil {
		return nil, err
	}
	report(progress, 0.3)

	out, err := b.waitOutput(ctx, promptID, progress)
	if err != nil {
		return nil, err
	}

	result, err := b.view(ctx, out)
	if err != nil {
		return nil, err
	}
	report(progress, 1)
	return result, nil
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *BiRefNet) uploadImage(ctx context.Context, data []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", ksuid.New().String()+".png")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &uploadImageResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + uploadPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return "", errors.New("upload image: empty file name")
	}

	util.Logger.Debug("image uploaded", zap.String("name", resp.Name))
	return resp.Name, nil
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// workflow returns the embedded workflow with every LoadImage node pointing at
// name.
func workflow(name string) (map[string]any, error) {
	wk := map[string]any{}
	if err := json.Unmarshal(workflowData, &wk); err != nil {
		return nil, fmt.Errorf("unmarshal workflow data: %w", err)
	}
	for _, n := range wk {
		node, ok := n.(map[string]any)
		if !ok || node["class_type"] != "LoadImage" {
			continue
		}
		if inputs, ok := node["inputs"].(map[string]any); ok && inputs["image"] == workflowPlaceholder {
			inputs["image"] = name
		}
	}
	return wk, nil
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNet) prompt(ctx context.Context, name string) (string, error) {
	wk, err := workflow(name)
	if err != nil {
		return "", err
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + promptPath,
		Method:     http.MethodPost,
		Body:       map[string]any{"prompt": wk, "client_id": ksuid.New().String()},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt id")
	}

	util.Logger.Debug("prompt queued", zap.String("prompt_id", resp.PromptID), zap.Int("number", resp.Number))
	return resp.PromptID, nil
}

type outputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []outputImage `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// waitOutput polls the prompt history until the workflow produced an image.
func (b *BiRefNet) waitOutput(ctx context.Context, promptID string, progress func(float64)) (outputImage, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		resp := map[string]historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.baseURL + historyPath + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &resp,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return outputImage{}, fmt.Errorf("poll history: %w", err)
		}

		if entry, ok := resp[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return outputImage{}, fmt.Errorf("prompt %s failed", promptID)
			}
			for _, out := range entry.Outputs {
				if len(out.Images) > 0 {
					return out.Images[0], nil
				}
			}
			if entry.Status.Completed {
				return outputImage{}, fmt.Errorf("prompt %s: %w", promptID, ErrNoSubject)
			}
		}
		report(progress, min(0.9, 0.3+0.05*float64(polls)))

		select {
		case <-ctx.Done():
			return outputImage{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *BiRefNet) view(ctx context.Context, out outputImage) (image.Image, error) {
	q := url.Values{}
	q.Set("filename", out.Filename)
	q.Set("subfolder", out.Subfolder)
	q.Set("type", out.Type)

	var raw []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + viewPath + "?" + q.Encode(),
		Method:     http.MethodGet,
		Response:   &raw,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	return util.DecodeImage(raw)
}
