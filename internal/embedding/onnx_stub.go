//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXOptions configures a local ONNX sentence embedding model.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
}

// ONNXEmbedder is unavailable without CGO; see onnx.go.
type ONNXEmbedder struct {
	Embedder
}

// NewONNXEmbedder returns an error when built without CGO.
func NewONNXEmbedder(_ ONNXOptions) (*ONNXEmbedder, error) {
	return nil, errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
