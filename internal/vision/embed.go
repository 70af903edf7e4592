package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder extracts ArcFace-style 512-D face embeddings via ONNX Runtime.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewEmbedder loads the ArcFace ONNX model. opts may be nil (ORT defaults)
// or a pre-configured *ort.SessionOptions shared with other sessions on
// the same thread pool.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	// ArcFace w600k_r50 expects 112x112 input.
	inputW, inputH := 112, 112
	embDim := 512

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// Extract runs embedding extraction on a single face crop. faceData must
// be CHW format [3, 112, 112], normalized. Returns an L2-normalized
// 512-dimensional embedding.
func (e *Embedder) Extract(faceData []float32) ([]float32, error) {
	copy(e.inputTensor.GetData(), faceData)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)

	return embedding, nil
}

// EmbedBatch runs embedding extraction over N aligned crops. Crops that
// are nil (a failed alignment upstream) are skipped, and the corresponding
// output index holds nil rather than shifting the remaining results, so
// len(result) == len(crops) always and index i of the result corresponds
// to crop i.
//
// The bound ONNX session is fixed at batch size 1 (the same fixed-shape
// tensor pattern the detector and liveness sessions use), so this issues
// one Run per crop rather than a single batched inference call; the batch
// semantics are at the Go API boundary, not the ONNX graph.
func (e *Embedder) EmbedBatch(crops [][]float32) ([][]float32, error) {
	results := make([][]float32, len(crops))
	for i, crop := range crops {
		if crop == nil {
			continue
		}
		emb, err := e.Extract(crop)
		if err != nil {
			return nil, fmt.Errorf("embed crop %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// InputSize returns the expected face crop dimensions.
func (e *Embedder) InputSize() (int, int) {
	return e.inputW, e.inputH
}

// EmbeddingDim returns the embedding vector dimension.
func (e *Embedder) EmbeddingDim() int {
	return e.embDim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
