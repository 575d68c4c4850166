package feed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListener_DeliversEachIDOnce(t *testing.T) {
	var r recorder
	l := newListener("messages", r.handle, slog.Default())
	ctx := context.Background()

	l.hold()
	l.deliverSnapshotLocked(ctx, []Record{{FieldMessageID: "b"}, {FieldMessageID: "a"}}, OldestFirst)
	l.release()

	l.deliver(ctx, Record{FieldMessageID: "a"})
	l.deliver(ctx, Record{FieldMessageID: "c"})
	l.deliver(ctx, Record{FieldMessageID: "c"})
	l.deliver(ctx, Record{"content": "no id"})

	assert.Equal(t, []string{"a", "b", "c"}, r.ids())
}

func TestListener_StopDropsLaterRecords(t *testing.T) {
	var r recorder
	l := newListener("messages", r.handle, slog.Default())

	l.deliver(context.Background(), Record{FieldMessageID: "a"})
	l.stop()
	l.deliver(context.Background(), Record{FieldMessageID: "b"})

	assert.Equal(t, []string{"a"}, r.ids())
}

func TestOnceDisposer(t *testing.T) {
	calls := 0
	d := onceDisposer(func() { calls++ })
	d()
	d()
	assert.Equal(t, 1, calls)
}
