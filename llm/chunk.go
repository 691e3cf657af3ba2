package llm

// ToolCallChunk is the tool-call portion of one raw response fragment. The
// backend assigns Index to say which call within the response the fragment
// belongs to; ID, Name and Arguments may each arrive in any fragment, split
// at arbitrary points.
type ToolCallChunk struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one normalized raw response fragment. Provider adapters convert
// their SDK's chunk shape into this type so the decoder never sees a
// backend-specific representation.
type Chunk struct {
	Text         string
	ToolCalls    []ToolCallChunk
	FinishReason string
	Usage        *TokenUsage
}

// ChunkStream is an ordered source of raw fragments for one completion
// call. Next returns false when the source is exhausted; Err reports the
// transport failure that ended it early, if any.
type ChunkStream interface {
	Next() (Chunk, bool)
	Err() error
	Close() error
}

// chunkSlice adapts an in-memory fragment list to ChunkStream. Used by the
// non-streaming synthesis path and by tests.
type chunkSlice struct {
	chunks []Chunk
	pos    int
	err    error
}

// NewChunkSlice wraps pre-collected fragments as a ChunkStream. A non-nil
// err makes the stream end with a transport failure after the fragments are
// drained.
func NewChunkSlice(chunks []Chunk, err error) ChunkStream {
	return &chunkSlice{chunks: chunks, err: err}
}

func (s *chunkSlice) Next() (Chunk, bool) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, false
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, true
}

func (s *chunkSlice) Err() error   { return s.err }
func (s *chunkSlice) Close() error { return nil }
