package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/embedkit/internal/pipeline"
)

// inputList accepts either a JSON string or an array of strings.
type inputList []string

func (l *inputList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = inputList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("input must be a string or an array of strings")
	}
	*l = many
	return nil
}

type embeddingsRequest struct {
	Input inputList `json:"input"`
	Model string    `json:"model,omitempty"`
}

type embeddingsResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model"`
	Data   []embeddingData `json:"data"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type indexRequest struct {
	Documents []pipeline.Input `json:"documents"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type countResponse struct {
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
}

type queryRequest struct {
	Query             string            `json:"query"`
	TopK              int               `json:"top_k,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	IncludeEmbeddings bool              `json:"include_embeddings,omitempty"`
}

type queryResponse struct {
	Results []queryResult `json:"results"`
}

type queryResult struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Distance  float64           `json:"distance"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// errorBody mirrors the OpenAI error envelope so OpenAI-compatible clients
// surface the message.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// decode reads a JSON body into v, rejecting unknown fields. On failure it
// writes a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: typ}})
}
