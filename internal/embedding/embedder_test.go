package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestLocalEmbedderIsDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(64, "local@1")

	first, err := e.Embed(ctx, []string{"fix oauth2 token refresh"})
	require.NoError(t, err)
	second, err := e.Embed(ctx, []string{"fix oauth2 token refresh"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first[0], 64)
}

func TestLocalEmbedderRanksByTokenOverlap(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(64, "local@1")

	vecs, err := e.Embed(ctx, []string{
		"token refresh in the auth service",
		"fix token refresh in auth service",
		"billing invoice pdf export",
	})
	require.NoError(t, err)

	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated,
		"texts sharing tokens must score closer than disjoint ones")
	assert.Greater(t, related, 0.5)
}

func TestLocalEmbedderNormalizesVectors(t *testing.T) {
	ctx := context.Background()
	e := NewLocalEmbedder(32, "local@1")

	vecs, err := e.Embed(ctx, []string{"auth ownership question", ""})
	require.NoError(t, err)

	for _, vec := range vecs {
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, norm, 1e-4)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Fix OAuth2 token refresh", []string{"fix", "oauth2", "token", "refresh"}},
		{"who owns auth?", []string{"who", "owns", "auth"}},
		{"  ", nil},
		{"a-b_c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenize(tt.in), "%q", tt.in)
	}
}
