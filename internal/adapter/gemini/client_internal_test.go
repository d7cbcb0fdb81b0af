package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
)

func TestClientCache_Switching(t *testing.T) {
	c := &clientCache{}
	ctx := context.Background()

	client1, err := c.get(ctx, "key1")
	assert.NoError(t, err)
	assert.NotNil(t, client1)
	assert.Equal(t, "key1", c.currentKey)

	client2, err := c.get(ctx, "key1")
	assert.NoError(t, err)
	assert.Same(t, client1, client2)

	client3, err := c.get(ctx, "key2")
	assert.NoError(t, err)
	assert.NotSame(t, client1, client3)
	assert.Equal(t, "key2", c.currentKey)

	assert.NoError(t, c.Close())
	assert.Nil(t, c.client)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, "", responseText(nil))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Travel "), genai.Text("Plans")}}},
		},
	}
	assert.Equal(t, "Travel Plans", responseText(resp))
}
