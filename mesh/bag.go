package mesh

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"container/heap"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/pierrec/lz4/v4"
)

// bagMagic starts every ROS bag v2.0 file.
const bagMagic = "#ROSBAG V2.0\n"

// Record op codes
const (
	opMessageData = 0x02
	opBagHeader   = 0x03
	opIndexData   = 0x04
	opChunk       = 0x05
	opChunkInfo   = 0x06
	opConnection  = 0x07
)

// maxRecordPart caps a single header or data block, which keeps a corrupt
// length from triggering a huge allocation.
const maxRecordPart = 1 << 30

// Connection is a topic stream declared in the bag.
type Connection struct {
	ID                uint32 `json:"id"`
	Topic             string `json:"topic"`
	Type              string `json:"type"`
	MD5Sum            string `json:"md5sum"`
	MessageDefinition string `json:"-"`
	Count             int    `json:"count"`
}

// Message is one serialized message with its receive time.
type Message struct {
	Conn *Connection
	Time time.Time
	Data []byte
}

// chunkInfo locates a chunk record and the time span of its messages.
type chunkInfo struct {
	pos        uint64
	start, end time.Time
}

// Bag is an open ROS bag file.
type Bag struct {
	path       string
	f          *os.File
	indexPos   uint64
	chunkCount uint32
	conns      map[uint32]*Connection
	chunks     []chunkInfo // ordered by start time
}

// OpenBag opens path and reads the connection index. Bags without an index
// (recording interrupted) are scanned once to discover their connections.
func OpenBag(path string) (*Bag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bag: %w", err)
	}
	b := &Bag{path: path, f: f, conns: make(map[uint32]*Connection)}
	if err := b.readIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading bag %s: %w", path, err)
	}
	return b, nil
}

// Close releases the underlying file.
func (b *Bag) Close() error {
	return b.f.Close()
}

// Path returns the file the bag was opened from.
func (b *Bag) Path() string {
	return b.path
}

// Chunks returns the chunk count recorded in the bag header.
func (b *Bag) Chunks() int {
	return int(b.chunkCount)
}

// Connections returns the declared connections ordered by id.
func (b *Bag) Connections() []*Connection {
	out := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// readIndex reads the bag header and the index section at its end.
func (b *Bag) readIndex() error {
	r := bufio.NewReader(io.NewSectionReader(b.f, 0, 1<<62))
	magic := make([]byte, len(bagMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != bagMagic {
		return fmt.Errorf("not a ROS bag v2.0 file")
	}

	rec, err := readRecord(r)
	if err != nil {
		return fmt.Errorf("reading bag header: %w", err)
	}
	if rec.op != opBagHeader {
		return fmt.Errorf("first record has op 0x%02x, want bag header", rec.op)
	}
	if b.indexPos, err = rec.u64("index_pos"); err != nil {
		return err
	}
	if b.chunkCount, err = rec.u32("chunk_count"); err != nil {
		return err
	}

	if b.indexPos == 0 {
		return b.scanConnections()
	}
	defer b.sortChunks()

	idx := bufio.NewReader(io.NewSectionReader(b.f, int64(b.indexPos), 1<<62))
	for {
		rec, err := readRecord(idx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading index: %w", err)
		}
		switch rec.op {
		case opConnection:
			if err := b.addConnection(rec); err != nil {
				return err
			}
		case opChunkInfo:
			if err := b.addChunkInfo(rec); err != nil {
				return err
			}
		}
	}
}

// sortChunks orders chunks by start time, keeping file order for ties.
func (b *Bag) sortChunks() {
	sort.SliceStable(b.chunks, func(i, j int) bool {
		if b.chunks[i].start.Equal(b.chunks[j].start) {
			return b.chunks[i].pos < b.chunks[j].pos
		}
		return b.chunks[i].start.Before(b.chunks[j].start)
	})
}

// scanConnections walks every record of an unindexed bag, counting messages
// and rebuilding the chunk time spans the missing index would have held.
func (b *Bag) scanConnections() error {
	it := &MessageIterator{bag: b}
	for {
		msg, err := it.nextRecorded()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		msg.Conn.Count++
	}
	// messages stored outside chunks have no span to merge on
	if !it.loose {
		b.chunks = it.scanned
		b.sortChunks()
	}
	return nil
}

func (b *Bag) addConnection(rec record) error {
	id, err := rec.u32("conn")
	if err != nil {
		return err
	}
	if _, ok := b.conns[id]; ok {
		return nil
	}
	c := &Connection{ID: id, Topic: rec.str("topic")}
	// the data block repeats the topic and adds type, md5sum and definition
	fields, err := parseFields(rec.data)
	if err != nil {
		return fmt.Errorf("connection %d: %w", id, err)
	}
	if t, ok := fields["topic"]; ok && c.Topic == "" {
		c.Topic = string(t)
	}
	c.Type = string(fields["type"])
	c.MD5Sum = string(fields["md5sum"])
	c.MessageDefinition = string(fields["message_definition"])
	b.conns[id] = c
	return nil
}

func (b *Bag) addChunkInfo(rec record) error {
	var info chunkInfo
	var err error
	if info.pos, err = rec.u64("chunk_pos"); err != nil {
		return err
	}
	if info.start, err = rec.time("start_time"); err != nil {
		return err
	}
	if info.end, err = rec.time("end_time"); err != nil {
		return err
	}
	b.chunks = append(b.chunks, info)

	count, err := rec.u32("count")
	if err != nil {
		return err
	}
	if len(rec.data) < int(count)*8 {
		return fmt.Errorf("chunk info: %d entries do not fit in %d bytes", count, len(rec.data))
	}
	for i := 0; i < int(count); i++ {
		id := binary.LittleEndian.Uint32(rec.data[i*8:])
		n := binary.LittleEndian.Uint32(rec.data[i*8+4:])
		if c, ok := b.conns[id]; ok {
			c.Count += int(n)
		}
	}
	return nil
}

// Messages calls fn for every message in timestamp order. Messages with
// equal stamps keep their order in the file. Returning an error from fn
// stops the scan.
func (b *Bag) Messages(ctx context.Context, fn func(Message) error) error {
	it := b.Iterator()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// MessageIterator pulls messages from a bag one at a time.
//
// When the chunk spans are known, chunks are loaded in start-time order and
// their messages merged through a heap: the earliest queued message is
// released once no unloaded chunk can start before it. Otherwise records are
// read in file order with each chunk sorted on its own.
type MessageIterator struct {
	bag  *Bag
	done bool

	// file order
	r       *bufio.Reader
	pos     uint64
	pending []Message
	started bool
	scanned []chunkInfo
	loose   bool

	// time merge
	chunks []chunkInfo
	queue  messageQueue
	seq    int
}

// Iterator returns a new iterator positioned at the first message.
func (b *Bag) Iterator() *MessageIterator {
	it := &MessageIterator{bag: b}
	if len(b.chunks) > 0 {
		it.chunks = append([]chunkInfo(nil), b.chunks...)
	}
	return it
}

// Next returns the next message, or io.EOF after the last one.
func (it *MessageIterator) Next() (Message, error) {
	if len(it.bag.chunks) == 0 {
		return it.nextRecorded()
	}
	if it.done {
		return Message{}, io.EOF
	}
	for len(it.chunks) > 0 && (it.queue.Len() == 0 || !it.chunks[0].start.After(it.queue[0].msg.Time)) {
		if err := it.load(it.chunks[0]); err != nil {
			it.done = true
			return Message{}, err
		}
		it.chunks = it.chunks[1:]
	}
	if it.queue.Len() == 0 {
		it.done = true
		return Message{}, io.EOF
	}
	return heap.Pop(&it.queue).(queuedMessage).msg, nil
}

// load reads the chunk at info.pos and queues its messages.
func (it *MessageIterator) load(info chunkInfo) error {
	r := bufio.NewReader(io.NewSectionReader(it.bag.f, int64(info.pos), 1<<62))
	rec, err := readRecord(r)
	if err != nil {
		return fmt.Errorf("reading chunk at %d: %w", info.pos, err)
	}
	if rec.op != opChunk {
		return fmt.Errorf("record at %d has op 0x%02x, want chunk", info.pos, rec.op)
	}
	msgs, err := it.chunk(rec)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		heap.Push(&it.queue, queuedMessage{msg: m, seq: it.seq})
		it.seq++
	}
	return nil
}

// nextRecorded returns messages in file order, sorting within each chunk.
func (it *MessageIterator) nextRecorded() (Message, error) {
	for len(it.pending) == 0 {
		if it.done {
			return Message{}, io.EOF
		}
		if err := it.advance(); err != nil {
			it.done = true
			if errors.Is(err, io.EOF) {
				return Message{}, io.EOF
			}
			return Message{}, err
		}
	}
	msg := it.pending[0]
	it.pending = it.pending[1:]
	return msg, nil
}

// advance reads top-level records until some messages are pending.
func (it *MessageIterator) advance() error {
	if !it.started {
		limit := int64(1 << 62)
		if it.bag.indexPos > 0 {
			limit = int64(it.bag.indexPos)
		}
		it.r = bufio.NewReaderSize(io.NewSectionReader(it.bag.f, 0, limit), 1<<16)
		if _, err := it.r.Discard(len(bagMagic)); err != nil {
			return err
		}
		it.pos = uint64(len(bagMagic))
		it.started = true
	}

	at := it.pos
	rec, err := readRecord(it.r)
	if err != nil {
		return err
	}
	it.pos += rec.size
	switch rec.op {
	case opConnection:
		return it.bag.addConnection(rec)
	case opMessageData:
		msg, err := it.message(rec)
		if err != nil {
			return err
		}
		it.loose = true
		it.pending = append(it.pending, msg)
	case opChunk:
		msgs, err := it.chunk(rec)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			it.scanned = append(it.scanned, chunkInfo{pos: at, start: msgs[0].Time, end: msgs[len(msgs)-1].Time})
		}
		it.pending = append(it.pending, msgs...)
	}
	return nil
}

// queuedMessage orders merged messages by time, then by load order.
type queuedMessage struct {
	msg Message
	seq int
}

type messageQueue []queuedMessage

func (q messageQueue) Len() int { return len(q) }
func (q messageQueue) Less(i, j int) bool {
	if q[i].msg.Time.Equal(q[j].msg.Time) {
		return q[i].seq < q[j].seq
	}
	return q[i].msg.Time.Before(q[j].msg.Time)
}
func (q messageQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *messageQueue) Push(x any)   { *q = append(*q, x.(queuedMessage)) }
func (q *messageQueue) Pop() any {
	old := *q
	n := len(old)
	m := old[n-1]
	*q = old[:n-1]
	return m
}

func (it *MessageIterator) message(rec record) (Message, error) {
	id, err := rec.u32("conn")
	if err != nil {
		return Message{}, err
	}
	conn, ok := it.bag.conns[id]
	if !ok {
		return Message{}, fmt.Errorf("message references unknown connection %d", id)
	}
	t, err := rec.time("time")
	if err != nil {
		return Message{}, err
	}
	return Message{Conn: conn, Time: t, Data: rec.data}, nil
}

// chunk decompresses a chunk record and returns its messages sorted by time.
func (it *MessageIterator) chunk(rec record) ([]Message, error) {
	size, err := rec.u32("size")
	if err != nil {
		return nil, err
	}
	var src io.Reader
	switch compression := rec.str("compression"); compression {
	case "none", "":
		src = bytes.NewReader(rec.data)
	case "bz2":
		src = bzip2.NewReader(bytes.NewReader(rec.data))
	case "lz4":
		src = lz4.NewReader(bytes.NewReader(rec.data))
	default:
		return nil, fmt.Errorf("unsupported chunk compression %q", compression)
	}
	if size > maxRecordPart {
		return nil, fmt.Errorf("chunk size %d too large", size)
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w", err)
	}

	var msgs []Message
	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		inner, err := readRecord(r)
		if err != nil {
			return nil, fmt.Errorf("chunk record: %w", err)
		}
		switch inner.op {
		case opConnection:
			if err := it.bag.addConnection(inner); err != nil {
				return nil, err
			}
		case opMessageData:
			msg, err := it.message(inner)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Time.Before(msgs[j].Time) })
	return msgs, nil
}

// record is one bag record: header fields plus a data block.
type record struct {
	op     byte
	fields map[string][]byte
	data   []byte
	size   uint64 // bytes on disk, both length prefixes included
}

func readRecord(r io.Reader) (record, error) {
	header, err := readBlock(r)
	if err != nil {
		return record{}, err
	}
	fields, err := parseFields(header)
	if err != nil {
		return record{}, err
	}
	data, err := readBlock(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return record{}, err
	}
	op, ok := fields["op"]
	if !ok || len(op) != 1 {
		return record{}, fmt.Errorf("record without op field")
	}
	return record{op: op[0], fields: fields, data: data, size: uint64(8 + len(header) + len(data))}, nil
}

// readBlock reads a uint32 length-prefixed byte block. A clean end of input
// before the length returns io.EOF.
func readBlock(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxRecordPart {
		return nil, fmt.Errorf("record block of %d bytes too large", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// parseFields splits a header block into name=value fields.
func parseFields(b []byte) (map[string][]byte, error) {
	fields := make(map[string][]byte)
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("truncated header field length")
		}
		n := int(binary.LittleEndian.Uint32(b))
		b = b[4:]
		if n > len(b) {
			return nil, fmt.Errorf("header field of %d bytes overruns header", n)
		}
		field := b[:n]
		b = b[n:]
		eq := bytes.IndexByte(field, '=')
		if eq < 0 {
			return nil, fmt.Errorf("header field without '='")
		}
		fields[string(field[:eq])] = field[eq+1:]
	}
	return fields, nil
}

func (r record) str(name string) string {
	return string(r.fields[name])
}

func (r record) u32(name string) (uint32, error) {
	v, ok := r.fields[name]
	if !ok || len(v) != 4 {
		return 0, fmt.Errorf("record field %q: want 4 bytes", name)
	}
	return binary.LittleEndian.Uint32(v), nil
}

func (r record) u64(name string) (uint64, error) {
	v, ok := r.fields[name]
	if !ok || len(v) != 8 {
		return 0, fmt.Errorf("record field %q: want 8 bytes", name)
	}
	return binary.LittleEndian.Uint64(v), nil
}

func (r record) time(name string) (time.Time, error) {
	v, ok := r.fields[name]
	if !ok || len(v) != 8 {
		return time.Time{}, fmt.Errorf("record field %q: want 8 bytes", name)
	}
	return rosTime(v), nil
}

// rosTime decodes a ROS time (uint32 seconds, uint32 nanoseconds).
func rosTime(b []byte) time.Time {
	secs := binary.LittleEndian.Uint32(b)
	nsecs := binary.LittleEndian.Uint32(b[4:])
	return time.Unix(int64(secs), int64(nsecs)).UTC()
}
