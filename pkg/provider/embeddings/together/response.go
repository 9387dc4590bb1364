package together

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxSnippet bounds how much of an unparseable body is quoted in an error.
const maxSnippet = 256

// embedRequest is the JSON request body sent to the embeddings endpoint.
type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embedResponse is the wire shape of both success and error bodies. Pointer
// fields distinguish an absent key from an empty value.
type embedResponse struct {
	Data   *[]embedData    `json:"data"`
	Model  string          `json:"model"`
	Detail json.RawMessage `json:"detail"`
	Error  *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type embedData struct {
	Embedding *[]float32 `json:"embedding"`
	Index     int        `json:"index"`
}

// result is the decoded outcome of one call: either success or failure.
type result interface {
	isResult()
}

// success carries the vectors in response order.
type success struct {
	vectors [][]float32
}

// failure carries an API-reported error message.
type failure struct {
	message string
}

func (success) isResult() {}
func (failure) isResult() {}

// decodeResult strictly decodes a response body into a [result]. Bodies that
// are not JSON or whose data entries do not hold numeric, equally sized,
// non-empty vectors yield an error.
func decodeResult(status int, body []byte) (result, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		if !isSuccess(status) {
			return failure{message: fmt.Sprintf("unexpected status %d", status)}, nil
		}
		return nil, errors.New("empty response body")
	}

	var resp embedResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		if !isSuccess(status) {
			return failure{message: fmt.Sprintf("unexpected status %d: %s", status, snippet(trimmed))}, nil
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.Data == nil {
		return failure{message: failureMessage(status, resp)}, nil
	}

	vectors := make([][]float32, len(*resp.Data))
	for i, d := range *resp.Data {
		if d.Embedding == nil {
			return nil, fmt.Errorf("decode response: data[%d] has no embedding", i)
		}
		vec := *d.Embedding
		if len(vec) == 0 {
			return nil, fmt.Errorf("decode response: data[%d] has an empty embedding", i)
		}
		if i > 0 && len(vec) != len(vectors[0]) {
			return nil, fmt.Errorf("decode response: data[%d] has %d dimensions, want %d", i, len(vec), len(vectors[0]))
		}
		vectors[i] = vec
	}
	return success{vectors: vectors}, nil
}

// failureMessage picks the most specific message available in an error body.
func failureMessage(status int, resp embedResponse) string {
	if msg := detailMessage(resp.Detail); msg != "" {
		return msg
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return resp.Error.Message
	}
	if !isSuccess(status) {
		return fmt.Sprintf("unexpected status %d", status)
	}
	return genericFailure
}

// detailMessage renders the detail field. Strings are returned verbatim;
// structured details (e.g. validation error lists) are returned as compact JSON.
func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func snippet(b []byte) string {
	if len(b) <= maxSnippet {
		return string(b)
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "…"
}
