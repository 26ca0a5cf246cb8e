package encoding

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}

	data, err := EncodeVector(vec)
	if err != nil {
		t.Fatalf("EncodeVector failed: %v", err)
	}

	decoded, err := DecodeVector(data)
	if err != nil {
		t.Fatalf("DecodeVector failed: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("expected %d values, got %d", len(vec), len(decoded))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("value %d: expected %f, got %f", i, vec[i], decoded[i])
		}
	}
}

func TestEncodeVectorNil(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("expected error for nil vector")
	}
}

func TestDecodeVectorTruncated(t *testing.T) {
	data, err := EncodeVector([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("EncodeVector failed: %v", err)
	}
	if _, err := DecodeVector(data[:len(data)-2]); err == nil {
		t.Error("expected error for truncated data")
	}
	if _, err := DecodeVector([]byte{1, 2}); err == nil {
		t.Error("expected error for short data")
	}
}

func TestValidateVector(t *testing.T) {
	if err := ValidateVector([]float32{1, 2}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateVector(nil); err == nil {
		t.Error("expected error for nil vector")
	}
	if err := ValidateVector([]float32{float32(math.NaN())}); err == nil {
		t.Error("expected error for NaN")
	}
	if err := ValidateVector([]float32{float32(math.Inf(1))}); err == nil {
		t.Error("expected error for Inf")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := map[string]any{
		"user":  "alice",
		"score": 0.5,
		"nested": map[string]any{
			"depth": float64(2),
		},
	}

	s, err := EncodeMetadata(meta)
	if err != nil {
		t.Fatalf("EncodeMetadata failed: %v", err)
	}

	decoded, err := DecodeMetadata(s)
	if err != nil {
		t.Fatalf("DecodeMetadata failed: %v", err)
	}
	if decoded["user"] != "alice" {
		t.Errorf("expected user alice, got %v", decoded["user"])
	}
	nested, ok := decoded["nested"].(map[string]any)
	if !ok || nested["depth"] != float64(2) {
		t.Errorf("nested value lost: %v", decoded["nested"])
	}
}

func TestMetadataNil(t *testing.T) {
	s, err := EncodeMetadata(nil)
	if err != nil || s != "" {
		t.Fatalf("expected empty string for nil metadata, got %q err %v", s, err)
	}
	m, err := DecodeMetadata("")
	if err != nil || m != nil {
		t.Fatalf("expected nil metadata for empty string, got %v err %v", m, err)
	}
}

func TestTagsRoundTrip(t *testing.T) {
	tags := []string{"observation", "urgent"}
	s, err := EncodeTags(tags)
	if err != nil {
		t.Fatalf("EncodeTags failed: %v", err)
	}
	decoded, err := DecodeTags(s)
	if err != nil {
		t.Fatalf("DecodeTags failed: %v", err)
	}
	if len(decoded) != 2 || decoded[0] != "observation" || decoded[1] != "urgent" {
		t.Errorf("unexpected tags: %v", decoded)
	}
}
