package results

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum/go-ethereum/log"
)

var errHandlerClosed = errors.New("result handler is closed")

// Sink consumes what an XMLHandler extracts from a report. Calls happen on
// the handler's decode goroutine while Feed or Close is blocked.
type Sink interface {
	// ResultItemCreated hands over a new item. Parent is nil for top level items.
	ResultItemCreated(item *types.ResultItem, parent *types.ResultItem)
	CounterIncremented(resultType types.ResultType)
	StatusUpdated(summary string)
}

// XMLHandler parses a Squish xml2.2 report that is still being written. Bytes
// are fed as they appear in the file; the tokenizer keeps its position
// across chunk boundaries.
type XMLHandler struct {
	log  log.Logger
	sink Sink

	src  *chunkReader
	done chan struct{}
	err  error

	// decode goroutine state
	testNames []string
	open      []*types.ResultItem
	current   accumulation
	counts    map[types.ResultType]int
}

type accumulation struct {
	element    string
	name       string
	details    []string
	time       string
	file       string
	line       int
	resultType types.ResultType
	prepend    bool
	inDesc     bool
	descType   string
	text       strings.Builder
}

// NewXMLHandler starts a handler. Close must be called to release its goroutine.
func NewXMLHandler(logger log.Logger, sink Sink) *XMLHandler {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	h := &XMLHandler{
		log:    logger,
		sink:   sink,
		src:    newChunkReader(),
		done:   make(chan struct{}),
		counts: make(map[types.ResultType]int),
	}
	go h.decode()
	return h
}

// Feed hands a chunk of the report to the parser and returns once every
// complete token in it has been processed.
func (h *XMLHandler) Feed(chunk []byte) error {
	if !h.src.push(chunk) {
		if h.err != nil {
			return h.err
		}
		return errHandlerClosed
	}
	return nil
}

// Close ends the input and waits for the parser to finish. A report that
// ends in the middle of an element is not an error.
func (h *XMLHandler) Close() error {
	h.src.close()
	<-h.done
	return h.err
}

func (h *XMLHandler) decode() {
	defer close(h.done)
	defer h.src.finish()

	dec := xml.NewDecoder(h.src)
	for {
		tok, err := dec.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) && !h.src.isClosed() {
				h.log.Error("Failed to parse result report", "error", err)
				h.err = fmt.Errorf("malformed result report: %w", err)
			}
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			h.startElement(t)
		case xml.EndElement:
			h.endElement(t.Name.Local)
		case xml.CharData:
			if h.current.inDesc {
				h.current.text.Write(t)
			}
		}
	}
}

func (h *XMLHandler) startElement(el xml.StartElement) {
	switch el.Name.Local {
	case "test":
		h.testNames = append(h.testNames, attr(el, "name"))
	case "prolog":
		name := attr(el, "name")
		if name == "" && len(h.testNames) > 0 {
			name = h.testNames[len(h.testNames)-1]
		}
		item := &types.ResultItem{Type: types.ResultStart, Text: name, Timestamp: attr(el, "time")}
		h.emit(item)
		h.open = append(h.open, item)
	case "verification", "message", "epilog":
		h.current = accumulation{
			element:    el.Name.Local,
			name:       attr(el, "name"),
			time:       attr(el, "time"),
			file:       attr(el, "file"),
			line:       atoi(attr(el, "line")),
			resultType: types.ParseResultType(attr(el, "type")),
		}
	case "result":
		if len(el.Attr) == 0 {
			h.current.prepend = true
			return
		}
		h.current.prepend = false
		if t := attr(el, "type"); t != "" {
			h.current.resultType = types.ParseResultType(t)
		}
		if ts := attr(el, "time"); ts != "" {
			h.current.time = ts
		}
	case "description":
		h.current.inDesc = true
		h.current.descType = attr(el, "type")
		h.current.text.Reset()
	}
}

func (h *XMLHandler) endElement(name string) {
	switch name {
	case "description":
		h.endDescription()
	case "verification", "message":
		h.emitAccumulated()
	case "epilog":
		h.closeTest()
	case "test":
		if len(h.testNames) > 0 {
			h.testNames = h.testNames[:len(h.testNames)-1]
		}
	}
}

func (h *XMLHandler) endDescription() {
	c := &h.current
	text := strings.TrimSpace(c.text.String())
	c.inDesc = false
	c.text.Reset()
	if text == "" {
		return
	}
	switch {
	case c.descType == "DETAILED":
		c.details = append(c.details, text)
	case c.prepend:
		if c.name == "" {
			c.name = text
		} else {
			c.name = text + ": " + c.name
		}
	case c.name == "":
		c.name = text
	case c.name == text:
	default:
		c.details = append(c.details, text)
	}
}

func (h *XMLHandler) emitAccumulated() {
	c := h.current
	item := &types.ResultItem{
		Type:      c.resultType,
		Text:      c.name,
		Details:   strings.Join(c.details, "\n"),
		Timestamp: c.time,
		File:      c.file,
		Line:      c.line,
	}
	h.current = accumulation{}
	h.emit(item)

	if item.Type.IsVerdict() {
		h.src.mu.Lock()
		h.counts[item.Type]++
		summary := summaryText(h.counts)
		h.src.mu.Unlock()
		if h.sink != nil {
			h.sink.CounterIncremented(item.Type)
			h.sink.StatusUpdated(summary)
		}
	}
}

func (h *XMLHandler) closeTest() {
	c := h.current
	h.current = accumulation{}
	if len(h.open) == 0 {
		h.log.Warn("Report epilog without prolog", "time", c.time)
		return
	}
	start := h.open[len(h.open)-1]
	h.emit(&types.ResultItem{Type: types.ResultEnd, Text: start.Text, Timestamp: c.time})
	h.open = h.open[:len(h.open)-1]
}

func (h *XMLHandler) emit(item *types.ResultItem) {
	var parent *types.ResultItem
	if len(h.open) > 0 {
		parent = h.open[len(h.open)-1]
	}
	if h.sink != nil {
		h.sink.ResultItemCreated(item, parent)
	}
}

func summaryText(counts map[types.ResultType]int) string {
	return fmt.Sprintf("Passes: %d  Fails: %d  Expected fails: %d  Unexpected passes: %d",
		counts[types.ResultPass], counts[types.ResultFail],
		counts[types.ResultExpectedFail], counts[types.ResultUnexpectedPass])
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// chunkReader is the blocking byte source of the decode goroutine. push
// waits until the decoder consumed everything and asks for more.
type chunkReader struct {
	mu       sync.Mutex
	dataCond *sync.Cond
	idleCond *sync.Cond
	buf      []byte
	closed   bool
	waiting  bool
	finished bool
}

func newChunkReader() *chunkReader {
	r := &chunkReader{}
	r.dataCond = sync.NewCond(&r.mu)
	r.idleCond = sync.NewCond(&r.mu)
	return r
}

func (r *chunkReader) ReadByte() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.buf) == 0 {
		if r.closed {
			return 0, io.EOF
		}
		r.waiting = true
		r.idleCond.Broadcast()
		r.dataCond.Wait()
	}
	r.waiting = false
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = b
	return 1, nil
}

// push appends data and blocks until the decoder is idle again. It reports
// false when the decoder already stopped.
func (r *chunkReader) push(data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.closed {
		return false
	}
	r.buf = append(r.buf, data...)
	r.waiting = false
	r.dataCond.Signal()
	for !r.finished && !(r.waiting && len(r.buf) == 0) {
		r.idleCond.Wait()
	}
	return !r.finished
}

func (r *chunkReader) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.dataCond.Broadcast()
}

func (r *chunkReader) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.idleCond.Broadcast()
}

func (r *chunkReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
