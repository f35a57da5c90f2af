package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

const hostedBaseURL = "https://api-inference.huggingface.co/models/"

var promptEchoPattern = regexp.MustCompile(`(?is).*?Текст:\s*`)

// Hosted rewrites captions through a hosted inference model. Any failure is
// returned as an error so a fallback summarizer can take over.
type Hosted struct {
	client   *http.Client
	baseURL  string
	token    string
	model    string
	maxChars int
}

// NewHosted creates a hosted-model summarizer.
func NewHosted(token, model string, maxChars int) *Hosted {
	if maxChars <= 0 {
		maxChars = 750
	}
	return &Hosted{
		client:   &http.Client{Timeout: 40 * time.Second},
		baseURL:  hostedBaseURL,
		token:    token,
		model:    model,
		maxChars: maxChars,
	}
}

type hostedRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters hostedParameters `json:"parameters"`
}

type hostedParameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

type hostedResult struct {
	GeneratedText string `json:"generated_text"`
}

func (h *Hosted) Summarize(ctx context.Context, title, body string) (string, error) {
	src := cleanText(title)
	if b := cleanText(body); b != "" {
		if src != "" {
			src = src + ". " + b
		} else {
			src = b
		}
	}
	if src == "" {
		return "", fmt.Errorf("nothing to rewrite")
	}
	src = Truncate(src, 1400)

	prompt := fmt.Sprintf(
		"Сделай уникальный пересказ на русском языке для Telegram-поста.\n"+
			"Правила:\n"+
			"1) Только русский язык.\n"+
			"2) Без ссылок, без слов 'источник', без названий сайтов.\n"+
			"3) Коротко и по делу.\n"+
			"4) Длина до %d символов.\n"+
			"5) Добавь строку 'Что это значит для рынка' в конце.\n\n"+
			"Текст:\n%s",
		h.maxChars, src)

	payload, err := json.Marshal(hostedRequest{
		Inputs:     prompt,
		Parameters: hostedParameters{MaxNewTokens: 300, Temperature: 0.7},
	})
	if err != nil {
		return "", fmt.Errorf("marshal rewrite request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+h.model, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create rewrite request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call rewrite model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rewrite model status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read rewrite response: %w", err)
	}
	out, err := decodeGeneratedText(raw)
	if err != nil {
		return "", err
	}

	out = cleanText(out)
	out = promptEchoPattern.ReplaceAllString(out, "")
	out = collapse(out)
	if out == "" || !looksRussian(out) {
		return "", fmt.Errorf("rewrite model returned unusable text")
	}
	return Truncate(out, h.maxChars), nil
}

// decodeGeneratedText accepts both response shapes the inference API uses:
// a one-element array or a bare object.
func decodeGeneratedText(raw []byte) (string, error) {
	var list []hostedResult
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 && list[0].GeneratedText != "" {
			return list[0].GeneratedText, nil
		}
		return "", fmt.Errorf("rewrite model returned no text")
	}

	var single hostedResult
	if err := json.Unmarshal(raw, &single); err == nil && single.GeneratedText != "" {
		return single.GeneratedText, nil
	}

	return "", fmt.Errorf("unrecognized rewrite response")
}
