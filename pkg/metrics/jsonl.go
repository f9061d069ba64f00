package metrics

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONLObserver appends one JSON object per event to w. Writes are buffered;
// call Flush before closing the underlying sink.
type JSONLObserver struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

type jsonlRecord struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	return &JSONLObserver{buf: buf, enc: json.NewEncoder(buf)}
}

func (o *JSONLObserver) RecordEvent(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(jsonlRecord{
		Name:   ev.Name,
		Time:   ev.Time,
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	})
}

func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Flush()
}
