package sqlite

import (
	"math"
	"testing"
)

func TestEmbeddingSerializationRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 3.14159, 0, -1e-7}

	blob := serializeEmbedding(original)
	if len(blob) != len(original)*4 {
		t.Fatalf("blob length: got %d, want %d", len(blob), len(original)*4)
	}

	restored, err := deserializeEmbedding(blob)
	if err != nil {
		t.Fatalf("deserializeEmbedding() failed: %v", err)
	}
	if len(restored) != len(original) {
		t.Fatalf("restored length: got %d, want %d", len(restored), len(original))
	}
	for i := range original {
		if restored[i] != original[i] {
			t.Errorf("restored[%d]: got %v, want %v", i, restored[i], original[i])
		}
	}
}

func TestSerializeEmptyEmbedding(t *testing.T) {
	if blob := serializeEmbedding(nil); blob != nil {
		t.Errorf("serializeEmbedding(nil): got %v, want nil", blob)
	}

	restored, err := deserializeEmbedding(nil)
	if err != nil {
		t.Fatalf("deserializeEmbedding(nil) failed: %v", err)
	}
	if restored != nil {
		t.Errorf("deserializeEmbedding(nil): got %v, want nil", restored)
	}
}

func TestDeserializeRejectsTruncatedBlob(t *testing.T) {
	if _, err := deserializeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("deserializeEmbedding(3 bytes): got nil error, want length error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"dimension mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity: got %v, want %v", got, tt.want)
			}
		})
	}
}
