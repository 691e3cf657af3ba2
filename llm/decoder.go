package llm

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// Decoder turns a stream of normalized raw fragments into stream events. A
// fresh decoder starts a fresh pass; it is forward-only, not seekable or
// replayable. Tool calls that arrive fragmented and interleaved across
// chunks are reassembled by index and finalized in ascending index order
// after the raw stream is exhausted.
type Decoder struct {
	src          ChunkStream
	asm          *toolCallAssembler
	queue        []StreamEvent
	finishReason string
	usage        *TokenUsage
	done         bool
}

// NewDecoder wraps src in a decoding pass.
func NewDecoder(src ChunkStream) *Decoder {
	return &Decoder{src: src, asm: newToolCallAssembler()}
}

// Recv returns the next stream event. The second return value is false once
// the terminal event has been delivered.
func (d *Decoder) Recv() (StreamEvent, bool) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			return ev, true
		}
		if d.done {
			return StreamEvent{}, false
		}

		chunk, ok := d.src.Next()
		if !ok {
			d.done = true
			if err := d.src.Err(); err != nil {
				log.Debug().Err(err).Msg("decoder: stream ended on transport failure")
				d.queue = append(d.queue, StreamEvent{Type: StreamTransportError, Err: err.Error()})
				continue
			}
			d.queue = append(d.queue, d.asm.finalize()...)
			d.queue = append(d.queue, StreamEvent{
				Type:         StreamMessageFinished,
				FinishReason: d.finishReason,
				Usage:        d.usage,
			})
			continue
		}
		d.queue = append(d.queue, d.decode(chunk)...)
	}
}

// Close releases the underlying transport stream.
func (d *Decoder) Close() error {
	d.done = true
	return d.src.Close()
}

func (d *Decoder) decode(chunk Chunk) []StreamEvent {
	if chunk.Usage != nil {
		if d.usage == nil {
			d.usage = &TokenUsage{}
		}
		*d.usage = d.usage.Add(*chunk.Usage)
	}
	if chunk.FinishReason != "" {
		// last write wins
		d.finishReason = chunk.FinishReason
	}

	var events []StreamEvent
	if chunk.Text != "" {
		events = append(events, StreamEvent{Type: StreamTextFragment, Text: chunk.Text})
	}
	for _, tc := range chunk.ToolCalls {
		events = append(events, d.asm.add(tc)...)
	}
	return events
}

// toolCallAssembler accumulates fragmented tool-call data keyed by the
// position index the backend assigns per call. Fragments sharing an index
// are concatenated in arrival order; the assembled call only exists for the
// duration of one decoding pass.
type toolCallAssembler struct {
	calls map[int]*toolCallFragment
}

type toolCallFragment struct {
	id        string
	name      string
	arguments string
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{calls: make(map[int]*toolCallFragment)}
}

func (a *toolCallAssembler) add(tc ToolCallChunk) []StreamEvent {
	frag, seen := a.calls[tc.Index]
	if !seen {
		frag = &toolCallFragment{}
		a.calls[tc.Index] = frag
	}

	if tc.ID != "" {
		frag.id = tc.ID
	}

	var events []StreamEvent
	if tc.Name != "" {
		hadName := frag.name != ""
		frag.name = tc.Name
		// The model is calling a tool; let consumers react before the
		// arguments have streamed in.
		if !hadName {
			events = append(events, StreamEvent{
				Type:      StreamToolCallStarted,
				ToolDelta: &ToolCallDelta{CallID: frag.id, Name: tc.Name},
			})
		}
	}

	if tc.Arguments != "" {
		frag.arguments += tc.Arguments
		events = append(events, StreamEvent{
			Type: StreamToolCallArgumentsDelta,
			ToolDelta: &ToolCallDelta{
				CallID:         frag.id,
				Name:           frag.name,
				ArgumentsDelta: tc.Arguments,
			},
		})
	}
	return events
}

// finalize parses every open fragment into a finished tool call, in
// ascending index order regardless of arrival interleaving.
func (a *toolCallAssembler) finalize() []StreamEvent {
	if len(a.calls) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	events := make([]StreamEvent, 0, len(indices))
	for _, idx := range indices {
		frag := a.calls[idx]
		log.Debug().Int("index", idx).Str("name", frag.name).
			Int("arguments_len", len(frag.arguments)).Msg("decoder: finalizing tool call")
		events = append(events, StreamEvent{
			Type: StreamToolCallFinished,
			ToolCall: &ToolCall{
				ID:        frag.id,
				Name:      frag.name,
				Arguments: ParseToolCallArguments(frag.arguments),
			},
		})
	}
	a.calls = make(map[int]*toolCallFragment)
	return events
}
