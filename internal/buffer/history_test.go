package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewHistory(t *testing.T) {
	h := NewHistory(100, 60)
	if h.Max() != 100 {
		t.Errorf("expected max 100, got %d", h.Max())
	}
	if h.Keep() != 60 {
		t.Errorf("expected keep 60, got %d", h.Keep())
	}
	if h.Len() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", h.Len())
	}

	// Invalid max falls back to defaults
	h = NewHistory(0, 0)
	if h.Max() != DefaultHistoryMax {
		t.Errorf("expected default max, got %d", h.Max())
	}

	// Keep >= max is clamped below max
	h = NewHistory(100, 200)
	if h.Keep() >= h.Max() {
		t.Errorf("keep %d not clamped below max %d", h.Keep(), h.Max())
	}
}

func TestHistory_AppendWithinBound(t *testing.T) {
	h := NewHistory(20, 10)

	h.Append([]byte("hello"))
	h.Append([]byte("world"))

	if got := h.Bytes(); !bytes.Equal(got, []byte("helloworld")) {
		t.Errorf("expected 'helloworld', got %q", got)
	}
	if h.Len() != 10 {
		t.Errorf("expected length 10, got %d", h.Len())
	}
}

func TestHistory_Rotation(t *testing.T) {
	h := NewHistory(10, 6)

	h.Append([]byte("0123456789")) // exactly full, no rotation
	if h.Len() != 10 {
		t.Errorf("expected length 10, got %d", h.Len())
	}

	// Next append exceeds max: rotate down to the keep floor, then append.
	h.Append([]byte("ab"))
	if got := h.Bytes(); !bytes.Equal(got, []byte("456789ab")) {
		t.Errorf("expected '456789ab' after rotation, got %q", got)
	}
}

func TestHistory_RotationHysteresis(t *testing.T) {
	h := NewHistory(10, 6)
	h.Append([]byte("0123456789"))
	h.Append([]byte("ab")) // rotation, len now 8

	// Appends that fit under max again must not rotate.
	h.Append([]byte("cd"))
	if got := h.Bytes(); !bytes.Equal(got, []byte("456789abcd")) {
		t.Errorf("expected '456789abcd', got %q", got)
	}
}

func TestHistory_OversizedAppend(t *testing.T) {
	h := NewHistory(10, 6)

	h.Append([]byte("abcdefghijklmnopqrstuvwxyz"))
	if h.Len() > 10 {
		t.Errorf("length %d exceeds max 10", h.Len())
	}
	if got := h.Bytes(); !bytes.Equal(got, []byte("qrstuvwxyz")) {
		t.Errorf("expected tail of oversized append, got %q", got)
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(10, 6)
	h.Append([]byte("data"))
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("expected empty buffer after Clear, got %d bytes", h.Len())
	}
	if h.Bytes() != nil {
		t.Error("expected nil Bytes after Clear")
	}
}

// **Feature: terminal-relay, Property: 历史缓冲区有界性**
// *对于任何*追加序列，无论总写入量多大，缓冲区长度永远不超过 H_MAX，
// 且缓冲区尾部始终等于所有已写入字节的尾部（最近的数据不丢失）。
// **Validates: history bound (§8)**
func TestHistoryBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	chunkGen := gen.SliceOfN(8, gen.UInt8Range(32, 126))

	properties.Property("length never exceeds max and tail is preserved", prop.ForAll(
		func(chunks [][]byte) bool {
			const max, keep = 64, 40
			h := NewHistory(max, keep)

			var all []byte
			for _, c := range chunks {
				h.Append(c)
				all = append(all, c...)
			}

			got := h.Bytes()
			if len(got) > max {
				return false
			}
			// Whatever is retained must be the most recent suffix of all
			// written bytes.
			return bytes.HasSuffix(all, got)
		},
		gen.SliceOf(chunkGen),
	))

	properties.Property("at least keep bytes survive once the buffer is warm", prop.ForAll(
		func(chunks [][]byte) bool {
			const max, keep = 64, 40
			h := NewHistory(max, keep)

			total := 0
			for _, c := range chunks {
				h.Append(c)
				total += len(c)
			}
			if total < max {
				return h.Len() == total
			}
			return h.Len() >= keep
		},
		gen.SliceOf(chunkGen),
	))

	properties.TestingRun(t)
}
