package llm

import (
	"errors"
	"io"
	"strings"

	"voicechat/core"
)

// ChunkFunc receives each fragment as it arrives, for live rendering.
type ChunkFunc func(chunk string)

// Aggregator folds a fragment stream into one final text.
type Aggregator struct {
	config LLMHandlerConfig
}

func NewAggregator(config LLMHandlerConfig) *Aggregator {
	return &Aggregator{config: config}
}

// Aggregate drains stream and returns the concatenation of every fragment in
// emission order. The final text is only returned once the stream reports
// io.EOF; any other error yields a *core.StreamError carrying the partial text.
// The stream is closed before returning.
func (a *Aggregator) Aggregate(stream core.FragmentStream, onChunk ChunkFunc) (string, error) {
	if stream == nil {
		return "", &core.StreamError{Err: errors.New("nil fragment stream")}
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return "", &core.StreamError{Partial: full.String(), Err: err}
		}
		full.WriteString(chunk)
		if onChunk != nil && (chunk != "" || a.config.NotifyEmptyChunks) {
			onChunk(chunk)
		}
	}
}
